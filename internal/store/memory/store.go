// Package memory provides an in-process store.Store. Each unit of work runs
// against a private copy of the state that replaces the committed state only
// when the unit succeeds, so writers are serialised and readers see
// snapshots.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
)

var errReadOnly = errors.New("memory: write attempted in read-only view")

type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

func New(opts ...Option) *Store {
	s := &Store{state: newState(), nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) RunInTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &queries{state: s.state.clone(), now: s.nowFn}
	if err := fn(tx); err != nil {
		return err
	}
	// A unit of work cancelled before commit is rolled back.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) View(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(&queries{state: snapshot, now: s.nowFn, readOnly: true})
}

type state struct {
	stations map[int64]domain.Station
	leases   map[int64]domain.Lease
	users    map[int64]domain.User

	stationByIP     map[string]int64
	activeByStation map[int64]int64
	activeByUser    map[int64]int64
	userByName      map[string]int64

	nextStation int64
	nextLease   int64
	nextUser    int64
}

func newState() state {
	return state{
		stations:        map[int64]domain.Station{},
		leases:          map[int64]domain.Lease{},
		users:           map[int64]domain.User{},
		stationByIP:     map[string]int64{},
		activeByStation: map[int64]int64{},
		activeByUser:    map[int64]int64{},
		userByName:      map[string]int64{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.stations {
		c.stations[k] = v
	}
	for k, v := range s.leases {
		c.leases[k] = cloneLease(v)
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.stationByIP {
		c.stationByIP[k] = v
	}
	for k, v := range s.activeByStation {
		c.activeByStation[k] = v
	}
	for k, v := range s.activeByUser {
		c.activeByUser[k] = v
	}
	for k, v := range s.userByName {
		c.userByName[k] = v
	}
	c.nextStation = s.nextStation
	c.nextLease = s.nextLease
	c.nextUser = s.nextUser
	return c
}

func cloneLease(l domain.Lease) domain.Lease {
	if l.ReleasedAt != nil {
		at := *l.ReleasedAt
		l.ReleasedAt = &at
	}
	return l
}
