// Package store holds live pastes in memory and enforces their expiry.
//
// Entries are spread across independently locked shards. Every read-modify-write
// on an entry happens under its shard's mutex, and the background sweep removes
// entries through the same primitive as Consume, so the two paths never disagree
// about whether an entry exists.
package store

import (
	"pastelite/pkg/domain"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

const DefaultShards = 32

var ErrIDTaken = errors.New("id already in use")

type Outcome int

const (
	NotFound Outcome = iota
	Found
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Expired:
		return "expired"
	default:
		return "not_found"
	}
}

// Result is what a single Consume observed. Paste is a snapshot and is only
// set for Found; Reason is only set for Expired.
type Result struct {
	Outcome Outcome
	Reason  domain.ExpiryReason
	Paste   *domain.Paste
}

type entry struct {
	id        string
	content   string
	createdAt time.Time
	expiresAt time.Time
	maxViews  int
	views     int
}

func (e *entry) snapshot() *domain.Paste {
	return &domain.Paste{
		ID:        e.id,
		Content:   e.content,
		CreatedAt: e.createdAt,
		ExpiresAt: e.expiresAt,
		MaxViews:  e.maxViews,
		Views:     e.views,
	}
}

// timeExpired reports whether the entry's time budget is spent at now.
// The deadline itself counts as expired.
func (e *entry) timeExpired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (e *entry) viewsExhausted() bool {
	return e.maxViews > 0 && e.views >= e.maxViews
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// removeLocked is the only way an entry leaves the store. Caller holds s.mu.
func (s *shard) removeLocked(id string) {
	delete(s.entries, id)
}

type Store struct {
	shards   []*shard
	mask     uint64
	now      func() time.Time
	sweeping atomic.Bool
}

type Option func(*Store)

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) Option {
	return func(s *Store) {
		if n <= 0 {
			n = DefaultShards
		}
		p := 1
		for p < n {
			p <<= 1
		}
		s.shards = make([]*shard, p)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.shards == nil {
		s.shards = make([]*shard, DefaultShards)
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	s.mask = uint64(len(s.shards) - 1)
	return s
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)&s.mask]
}

// Create inserts a new entry under id. A ttl <= 0 or maxViews <= 0 disables
// the corresponding limit. It fails with ErrIDTaken if id is live.
func (s *Store) Create(id, content string, ttl time.Duration, maxViews int) (*domain.Paste, error) {
	if id == "" {
		return nil, errors.New("empty id")
	}
	now := s.now()
	e := &entry{
		id:        id,
		content:   content,
		createdAt: now,
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	if maxViews > 0 {
		e.maxViews = maxViews
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[id]; ok {
		return nil, ErrIDTaken
	}
	sh.entries[id] = e
	return e.snapshot(), nil
}

// Consume performs one read of id. Time expiry is checked before view
// exhaustion, and exhaustion is only discovered by the read after the one that
// reached the limit, so the last permitted view is always delivered.
func (s *Store) Consume(id string) Result {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok {
		return Result{Outcome: NotFound}
	}
	if e.timeExpired(s.now()) {
		sh.removeLocked(id)
		return Result{Outcome: Expired, Reason: domain.ReasonTTL}
	}
	if e.viewsExhausted() {
		sh.removeLocked(id)
		return Result{Outcome: Expired, Reason: domain.ReasonViews}
	}
	e.views++
	return Result{Outcome: Found, Paste: e.snapshot()}
}

// Sweep removes every entry whose time budget is spent and returns how many
// were removed. View-exhausted entries are left for Consume to retire.
func (s *Store) Sweep() int {
	removed := 0
	for _, sh := range s.shards {
		now := s.now()
		sh.mu.Lock()
		for id, e := range sh.entries {
			if e.timeExpired(now) {
				sh.removeLocked(id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) Shards() int {
	return len(s.shards)
}
