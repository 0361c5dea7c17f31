// Package allocation assigns stations to users and releases them. Each
// operation is one unit of work over the station registry and the lease
// ledger; notifications go out only after it commits.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/leases"
	"github.com/EternisAI/silo-stations/internal/metrics"
	"github.com/EternisAI/silo-stations/internal/notify"
	"github.com/EternisAI/silo-stations/internal/stations"
	"github.com/EternisAI/silo-stations/internal/store"
)

// UserDirectory resolves user ids. It returns a *domain.NotFoundError for
// unknown users.
type UserDirectory interface {
	LookupUser(ctx context.Context, id int64) (domain.User, error)
}

type Config struct {
	TxTimeout   time.Duration `mapstructure:"tx_timeout"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

const defaultTxTimeout = 5 * time.Second

type Engine struct {
	store     store.Store
	users     UserDirectory
	stations  *stations.Registry
	ledger    *leases.Ledger
	publisher notify.Publisher
	metrics   *metrics.Metrics
	txTimeout time.Duration
}

func NewEngine(
	s store.Store,
	users UserDirectory,
	registry *stations.Registry,
	ledger *leases.Ledger,
	publisher notify.Publisher,
	m *metrics.Metrics,
	cfg Config,
) *Engine {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = defaultTxTimeout
	}
	return &Engine{
		store:     s,
		users:     users,
		stations:  registry,
		ledger:    ledger,
		publisher: publisher,
		metrics:   m,
		txTimeout: cfg.TxTimeout,
	}
}

// Assign gives the FREE station to the user and moves it to WORK.
func (e *Engine) Assign(ctx context.Context, userID, stationID int64) (domain.Lease, error) {
	lease, err := e.assign(ctx, userID, stationID)
	e.metrics.LeaseOp("assign", outcome(err))
	if err != nil {
		logDenied("assign", err, "user_id", userID, "station_id", stationID)
		return domain.Lease{}, err
	}

	slog.Info("Station assigned", "lease_id", lease.ID, "user_id", userID, "station_id", stationID)
	e.publisher.Publish(domain.StateChange{
		StationID: stationID,
		OldState:  domain.StateFree,
		NewState:  domain.StateWork,
		ActorID:   lease.UserID,
		Actor:     lease.Username,
		At:        lease.CreatedAt,
	})
	return lease, nil
}

func (e *Engine) assign(ctx context.Context, userID, stationID int64) (domain.Lease, error) {
	user, err := e.users.LookupUser(ctx, userID)
	if err != nil {
		return domain.Lease{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	var lease domain.Lease
	err = e.store.RunInTx(ctx, func(q store.Queries) error {
		st := e.stations.Bind(q)
		lt := e.ledger.Bind(q)

		station, err := st.Lock(ctx, stationID)
		if err != nil {
			return err
		}
		if _, busy, err := lt.ActiveByStation(ctx, station.ID); err != nil {
			return err
		} else if busy {
			return domain.Conflict(domain.ReasonStationOccupied, fmt.Sprintf("station %d is leased", station.ID))
		}
		if _, busy, err := lt.ActiveByUser(ctx, user.ID); err != nil {
			return err
		} else if busy {
			return domain.Conflict(domain.ReasonUserAlreadyLeased, fmt.Sprintf("user %s already holds a station", user.Username))
		}
		if station.State != domain.StateFree {
			return &domain.ConflictError{
				Reason: domain.ReasonStationNotAvailable,
				State:  station.State,
				Msg:    fmt.Sprintf("station %d is %s", station.ID, station.State),
			}
		}

		if _, err := st.SetState(ctx, station, domain.StateWork); err != nil {
			return err
		}
		lease, err = lt.RecordAssignment(ctx, user.ID, station.ID)
		return err
	})
	if err != nil {
		return domain.Lease{}, wrapInfra("assign station", err)
	}
	return lease, nil
}

// Release closes the lease and returns its station to FREE.
func (e *Engine) Release(ctx context.Context, leaseID int64) (domain.Lease, error) {
	lease, old, err := e.release(ctx, leaseID)
	e.metrics.LeaseOp("release", outcome(err))
	if err != nil {
		logDenied("release", err, "lease_id", leaseID)
		return domain.Lease{}, err
	}

	slog.Info("Station released", "lease_id", lease.ID, "user_id", lease.UserID, "station_id", lease.StationID)
	at := time.Now().UTC()
	if lease.ReleasedAt != nil {
		at = *lease.ReleasedAt
	}
	e.publisher.Publish(domain.StateChange{
		StationID: lease.StationID,
		OldState:  old,
		NewState:  domain.StateFree,
		ActorID:   lease.UserID,
		Actor:     lease.Username,
		At:        at,
	})
	return lease, nil
}

func (e *Engine) release(ctx context.Context, leaseID int64) (domain.Lease, domain.State, error) {
	ctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	var released domain.Lease
	var old domain.State
	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		st := e.stations.Bind(q)
		lt := e.ledger.Bind(q)

		lease, err := lt.Lock(ctx, leaseID)
		if err != nil {
			return err
		}
		if !lease.Active {
			return domain.Conflict(domain.ReasonAlreadyReleased, fmt.Sprintf("lease %d is already released", lease.ID))
		}
		station, err := st.Lock(ctx, lease.StationID)
		if err != nil {
			return err
		}
		old = station.State

		released, err = lt.RecordRelease(ctx, lease)
		if err != nil {
			return err
		}
		_, err = st.SetState(ctx, station, domain.StateFree)
		return err
	})
	if err != nil {
		return domain.Lease{}, "", wrapInfra("release lease", err)
	}
	return released, old, nil
}

func isBusiness(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrValidation)
}

// wrapInfra annotates storage failures and leaves business outcomes as is.
func wrapInfra(op string, err error) error {
	if isBusiness(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func outcome(err error) string {
	var ce *domain.ConflictError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ce):
		return string(ce.Reason)
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

func logDenied(op string, err error, args ...any) {
	args = append(args, "error", err)
	if isBusiness(err) {
		slog.Debug("Lease operation denied", append([]any{"op", op}, args...)...)
		return
	}
	slog.Error("Lease operation failed", append([]any{"op", op}, args...)...)
}
