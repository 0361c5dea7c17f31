// Package store defines the persistence contract shared by the Postgres and
// in-memory backends.
package store

import (
	"context"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
)

// Store runs units of work. Every mutation happens inside RunInTx; if fn
// returns an error nothing it did is kept. View gives fn a consistent
// read-only snapshot.
type Store interface {
	RunInTx(ctx context.Context, fn func(q Queries) error) error
	View(ctx context.Context, fn func(q Queries) error) error
}

// Queries is the set of operations available inside a unit of work. Lookups
// of a single row return a *domain.NotFoundError when the row is absent.
type Queries interface {
	StationQueries
	LeaseQueries
	UserQueries
}

type StationQueries interface {
	CreateStation(ctx context.Context, s domain.Station) (domain.Station, error)
	GetStation(ctx context.Context, id int64) (domain.Station, error)
	// LockStation reads the station and holds it exclusively until the unit
	// of work ends.
	LockStation(ctx context.Context, id int64) (domain.Station, error)
	GetStationByIP(ctx context.Context, ip string) (domain.Station, error)
	UpdateStation(ctx context.Context, s domain.Station) (domain.Station, error)
	DeleteStation(ctx context.Context, id int64) error
	ListStations(ctx context.Context, f domain.StationFilter, p domain.PageRequest) ([]domain.Station, int64, error)
	AllStations(ctx context.Context) ([]domain.Station, error)
	CountStationsByState(ctx context.Context) (map[domain.State]int64, error)
}

// LeaseFilter selects leases. Zero values are ignored. NewestFirst orders by
// creation time descending with ties broken by id descending; otherwise
// leases come back by id ascending.
type LeaseFilter struct {
	Active      *bool
	UserID      int64
	StationID   int64
	Username    string
	Limit       int
	NewestFirst bool
}

type LeaseQueries interface {
	// InsertLease stores an active lease. It fails with a ConflictError
	// when the station or the user already has an active lease.
	InsertLease(ctx context.Context, l domain.Lease) (domain.Lease, error)
	CloseLease(ctx context.Context, id int64, at time.Time) (domain.Lease, error)
	GetLease(ctx context.Context, id int64) (domain.Lease, error)
	LockLease(ctx context.Context, id int64) (domain.Lease, error)
	ListLeases(ctx context.Context, f LeaseFilter) ([]domain.Lease, error)
	CountLeases(ctx context.Context) (active, inactive int64, err error)
}

type UserQueries interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, int64, error)
	UserStats(ctx context.Context) (domain.UserStats, error)
}

// Bool returns a pointer to b, for LeaseFilter.Active.
func Bool(b bool) *bool { return &b }
