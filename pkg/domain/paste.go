package domain
import (
	"time"
)
type Paste struct {
	ID        string
	Content   string
	CreatedAt time.Time
	ExpiresAt time.Time // zero => no time limit
	MaxViews  int       // 0 => unlimited
	Views     int
}
func (p *Paste) HasTTL() bool       { return !p.ExpiresAt.IsZero() }
func (p *Paste) HasViewLimit() bool { return p.MaxViews > 0 }

// CreateParams carries the validated-by-service inputs of a create call.
// Nil TTL or MaxViews means the limit is absent.
type CreateParams struct {
	Content  string
	TTL      *time.Duration
	MaxViews *int
}
// View is what one successful read returns. Views is the count including
// this read; nil limits were not set at creation.
type View struct {
	ID        string
	Content   string
	Views     int
	MaxViews  *int
	ExpiresAt *time.Time
}
func NewView(p *Paste) *View {
	v := &View{
		ID:      p.ID,
		Content: p.Content,
		Views:   p.Views,
	}
	if p.HasViewLimit() {
		m := p.MaxViews
		v.MaxViews = &m
	}
	if p.HasTTL() {
		t := p.ExpiresAt
		v.ExpiresAt = &t
	}
	return v
}
