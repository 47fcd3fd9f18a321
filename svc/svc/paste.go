package svc

import (
	"context"
	"pastelite/cfg"
	"pastelite/metrics"
	"pastelite/pkg/domain"
	"pastelite/svc/store"
	"pastelite/svc/util"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const maxIDAttempts = 5

type Paste struct {
	store    *store.Store
	ids      util.IDGenerator
	cfg      *cfg.Cfg
	mu       sync.RWMutex
	shutdown bool
	opWg     sync.WaitGroup
}

func NewPaste(st *store.Store, ids util.IDGenerator, c *cfg.Cfg) *Paste {
	if st == nil || ids == nil || c == nil {
		panic("paste service: nil dependency (store, id generator, or cfg)")
	}
	return &Paste{
		store: st,
		ids:   ids,
		cfg:   c,
	}
}

// Shutdown refuses new operations and waits for in-flight ones. It is safe to
// call concurrently with Create and Get.
func (p *Paste) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}

// begin registers an operation unless shutdown has started. The flag check
// and the Add happen under one lock so Shutdown's Wait never races an Add.
func (p *Paste) begin() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return false
	}
	p.opWg.Add(1)
	return true
}

// Create validates params and stores a new paste. Optional limits that are
// present but not positive, or beyond the configured ceilings, are rejected
// with ErrInvalidParameter rather than silently dropped.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if !p.begin() {
		return nil, domain.ErrServiceUnavailable
	}
	defer p.opWg.Done()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Content) == "" {
		return nil, domain.ErrInvalidContent
	}
	if int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return nil, domain.ErrPasteTooLarge
	}
	ttl, maxViews, err := p.limits(params)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := p.ids.NewID()
		if err != nil {
			return nil, errors.Wrap(err, "gen id")
		}
		paste, err := p.store.Create(id, params.Content, ttl, maxViews)
		if errors.Is(err, store.ErrIDTaken) {
			metrics.IDCollisions.Inc()
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "create paste")
		}
		metrics.PasteCreated.Inc()
		util.Debug().
			Str("paste_id", util.RedactID(paste.ID)).
			Dur("ttl", ttl).
			Int("max_views", maxViews).
			Msg("paste stored")
		return paste, nil
	}
	util.Error().Int("attempts", maxIDAttempts).Msg("id collision retries exhausted")
	return nil, domain.ErrIDGenerationFailed
}
func (p *Paste) limits(params domain.CreateParams) (time.Duration, int, error) {
	var ttl time.Duration
	var maxViews int
	if params.TTL != nil {
		ttl = *params.TTL
		if ttl <= 0 || ttl > p.cfg.MaxTTL {
			return 0, 0, errors.Wrapf(domain.ErrInvalidParameter, "ttl %s outside (0, %s]", ttl, p.cfg.MaxTTL)
		}
	}
	if params.MaxViews != nil {
		maxViews = *params.MaxViews
		if maxViews <= 0 || maxViews > p.cfg.MaxViews {
			return 0, 0, errors.Wrapf(domain.ErrInvalidParameter, "max views %d outside [1, %d]", maxViews, p.cfg.MaxViews)
		}
	}
	return ttl, maxViews, nil
}

// Get consumes one view of id. The access that discovers an exhausted paste
// gets an *domain.ExpiredError; every later access gets ErrPasteNotFound.
func (p *Paste) Get(ctx context.Context, id string) (*domain.View, error) {
	if !p.begin() {
		return nil, domain.ErrServiceUnavailable
	}
	defer p.opWg.Done()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := p.store.Consume(id)
	metrics.PasteConsumed.WithLabelValues(res.Outcome.String()).Inc()
	switch res.Outcome {
	case store.Found:
		return domain.NewView(res.Paste), nil
	case store.Expired:
		metrics.PasteExpired.WithLabelValues(string(res.Reason)).Inc()
		util.Debug().
			Str("paste_id", util.RedactID(id)).
			Str("reason", string(res.Reason)).
			Msg("paste retired on access")
		return nil, &domain.ExpiredError{Reason: res.Reason}
	default:
		return nil, domain.ErrPasteNotFound
	}
}

func (p *Paste) Live() int {
	return p.store.Len()
}
