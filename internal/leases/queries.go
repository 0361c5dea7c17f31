package leases

import (
	"context"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
)

// DefaultRecentLimit is how many leases Recent returns when asked for none.
const DefaultRecentLimit = 10

func (l *Ledger) list(ctx context.Context, f store.LeaseFilter) ([]domain.Lease, error) {
	var out []domain.Lease
	err := l.store.View(ctx, func(q store.Queries) error {
		var err error
		out, err = q.ListLeases(ctx, f)
		return err
	})
	return out, err
}

func (l *Ledger) one(ctx context.Context, f store.LeaseFilter) (domain.Lease, bool, error) {
	f.Limit = 1
	return first(l.list(ctx, f))
}

func (l *Ledger) Get(ctx context.Context, id int64) (domain.Lease, error) {
	var out domain.Lease
	err := l.store.View(ctx, func(q store.Queries) error {
		var err error
		out, err = q.GetLease(ctx, id)
		return err
	})
	return out, err
}

func (l *Ledger) ActiveByStation(ctx context.Context, stationID int64) (domain.Lease, bool, error) {
	return l.one(ctx, store.LeaseFilter{Active: store.Bool(true), StationID: stationID})
}

func (l *Ledger) ActiveByUser(ctx context.Context, userID int64) (domain.Lease, bool, error) {
	return l.one(ctx, store.LeaseFilter{Active: store.Bool(true), UserID: userID})
}

func (l *Ledger) ActiveByUsername(ctx context.Context, username string) (domain.Lease, bool, error) {
	return l.one(ctx, store.LeaseFilter{Active: store.Bool(true), Username: username})
}

func (l *Ledger) ActiveByStationAndUser(ctx context.Context, stationID, userID int64) (domain.Lease, bool, error) {
	return l.one(ctx, store.LeaseFilter{Active: store.Bool(true), StationID: stationID, UserID: userID})
}

func (l *Ledger) IsStationOccupied(ctx context.Context, stationID int64) (bool, error) {
	_, found, err := l.ActiveByStation(ctx, stationID)
	return found, err
}

func (l *Ledger) AllActive(ctx context.Context) ([]domain.Lease, error) {
	return l.list(ctx, store.LeaseFilter{Active: store.Bool(true)})
}

func (l *Ledger) AllInactive(ctx context.Context) ([]domain.Lease, error) {
	return l.list(ctx, store.LeaseFilter{Active: store.Bool(false)})
}

// Recent returns the most recently created leases, newest first. Leases
// created at the same instant are ordered by id, highest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.Lease, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return l.list(ctx, store.LeaseFilter{NewestFirst: true, Limit: limit})
}

func (l *Ledger) AllByUser(ctx context.Context, userID int64) ([]domain.Lease, error) {
	return l.list(ctx, store.LeaseFilter{UserID: userID})
}

func (l *Ledger) AllByStation(ctx context.Context, stationID int64) ([]domain.Lease, error) {
	return l.list(ctx, store.LeaseFilter{StationID: stationID})
}
