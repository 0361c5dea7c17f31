// Package leases keeps the ledger of station assignments and releases.
package leases

import (
	"context"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
)

type Ledger struct {
	store store.Store
	now   func() time.Time
}

func NewLedger(s store.Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: s, now: now}
}

// Bind returns the ledger operations that run inside an open unit of work.
func (l *Ledger) Bind(q store.Queries) *Tx {
	return &Tx{q: q, now: l.now}
}

type Tx struct {
	q   store.Queries
	now func() time.Time
}

// RecordAssignment appends an active lease for the user on the station.
func (t *Tx) RecordAssignment(ctx context.Context, userID, stationID int64) (domain.Lease, error) {
	return t.q.InsertLease(ctx, domain.Lease{
		UserID:    userID,
		StationID: stationID,
		Active:    true,
		CreatedAt: t.now().UTC(),
	})
}

// RecordRelease closes an active lease.
func (t *Tx) RecordRelease(ctx context.Context, lease domain.Lease) (domain.Lease, error) {
	if !lease.Active {
		return domain.Lease{}, domain.Conflict(domain.ReasonAlreadyReleased, "lease is not active")
	}
	return t.q.CloseLease(ctx, lease.ID, t.now().UTC())
}

// Lock reads the lease and holds it until the unit of work ends.
func (t *Tx) Lock(ctx context.Context, id int64) (domain.Lease, error) {
	return t.q.LockLease(ctx, id)
}

func (t *Tx) ActiveByStation(ctx context.Context, stationID int64) (domain.Lease, bool, error) {
	return first(t.q.ListLeases(ctx, store.LeaseFilter{Active: store.Bool(true), StationID: stationID, Limit: 1}))
}

func (t *Tx) ActiveByUser(ctx context.Context, userID int64) (domain.Lease, bool, error) {
	return first(t.q.ListLeases(ctx, store.LeaseFilter{Active: store.Bool(true), UserID: userID, Limit: 1}))
}

func first(list []domain.Lease, err error) (domain.Lease, bool, error) {
	if err != nil || len(list) == 0 {
		return domain.Lease{}, false, err
	}
	return list[0], true, nil
}
