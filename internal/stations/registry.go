// Package stations owns station records: creation, lookup, listing, edits
// and CSV import/export. It has no leasing logic beyond refusing edits that
// would contradict an active lease.
package stations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/metrics"
	"github.com/EternisAI/silo-stations/internal/notify"
	"github.com/EternisAI/silo-stations/internal/store"
)

type StationInput struct {
	IP         string
	Port       int
	State      domain.State
	Login      string
	Credential string
}

// StationPatch carries the fields to change; nil fields are left alone.
type StationPatch struct {
	IP         *string
	Port       *int
	State      *domain.State
	Login      *string
	Credential *string
}

type Registry struct {
	store     store.Store
	publisher notify.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRegistry(s store.Store, publisher notify.Publisher, m *metrics.Metrics, now func() time.Time) *Registry {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{store: s, publisher: publisher, metrics: m, now: now}
}

// validate checks s and rewrites its address into canonical form, so one
// address spelled two ways still trips the uniqueness check.
func validate(s *domain.Station) error {
	addr, err := netip.ParseAddr(s.IP)
	if err != nil {
		return &domain.ValidationError{Field: "ip", Msg: fmt.Sprintf("invalid address %q", s.IP)}
	}
	s.IP = addr.String()
	if s.Port < 1 || s.Port > 65535 {
		return &domain.ValidationError{Field: "port", Msg: "must be between 1 and 65535"}
	}
	if !s.State.Valid() {
		return &domain.ValidationError{Field: "state", Msg: fmt.Sprintf("unknown state %q", s.State)}
	}
	return nil
}

func (r *Registry) Create(ctx context.Context, in StationInput) (domain.Station, error) {
	st := domain.Station{
		IP:         in.IP,
		Port:       in.Port,
		State:      in.State,
		Login:      in.Login,
		Credential: in.Credential,
	}
	if st.State == "" {
		st.State = domain.StateOff
	}
	if err := validate(&st); err != nil {
		return domain.Station{}, err
	}
	if st.State == domain.StateWork {
		return domain.Station{}, domain.Conflict(domain.ReasonStateManagedByLeases, "WORK is entered only through assignment")
	}

	now := r.now().UTC()
	st.CreatedAt, st.UpdatedAt = now, now

	var created domain.Station
	err := r.store.RunInTx(ctx, func(q store.Queries) error {
		var err error
		created, err = createStation(ctx, q, st)
		return err
	})
	if err != nil {
		return domain.Station{}, err
	}
	slog.Info("Station created", "station_id", created.ID, "ip", created.IP)
	return created, nil
}

func createStation(ctx context.Context, q store.Queries, st domain.Station) (domain.Station, error) {
	if _, err := q.GetStationByIP(ctx, st.IP); err == nil {
		return domain.Station{}, domain.Conflict(domain.ReasonDuplicateAddress, st.IP)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Station{}, err
	}
	return q.CreateStation(ctx, st)
}

func (r *Registry) Get(ctx context.Context, id int64) (domain.Station, error) {
	var st domain.Station
	err := r.store.View(ctx, func(q store.Queries) error {
		var err error
		st, err = q.GetStation(ctx, id)
		return err
	})
	return st, err
}

func (r *Registry) Update(ctx context.Context, id int64, patch StationPatch, actor domain.Actor) (domain.Station, error) {
	var before, after domain.Station
	err := r.store.RunInTx(ctx, func(q store.Queries) error {
		var err error
		before, err = q.LockStation(ctx, id)
		if err != nil {
			return err
		}
		after = applyPatch(before, patch)
		after.UpdatedAt = r.now().UTC()
		after, err = updateStation(ctx, q, before, after)
		return err
	})
	if err != nil {
		return domain.Station{}, err
	}
	r.stateChanged(before, after, actor)
	return after, nil
}

func applyPatch(st domain.Station, p StationPatch) domain.Station {
	if p.IP != nil {
		st.IP = *p.IP
	}
	if p.Port != nil {
		st.Port = *p.Port
	}
	if p.State != nil {
		st.State = *p.State
	}
	if p.Login != nil {
		st.Login = *p.Login
	}
	if p.Credential != nil {
		st.Credential = *p.Credential
	}
	return st
}

// updateStation validates and persists an edit of before into after. Entering
// WORK, or leaving it while a lease is active, is left to the allocation
// engine.
func updateStation(ctx context.Context, q store.Queries, before, after domain.Station) (domain.Station, error) {
	if err := validate(&after); err != nil {
		return domain.Station{}, err
	}
	if after.IP != before.IP {
		if _, err := q.GetStationByIP(ctx, after.IP); err == nil {
			return domain.Station{}, domain.Conflict(domain.ReasonDuplicateAddress, after.IP)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.Station{}, err
		}
	}
	if after.State != before.State {
		if after.State == domain.StateWork {
			return domain.Station{}, domain.Conflict(domain.ReasonStateManagedByLeases, "WORK is entered only through assignment")
		}
		if before.State == domain.StateWork {
			active, err := q.ListLeases(ctx, store.LeaseFilter{Active: store.Bool(true), StationID: before.ID, Limit: 1})
			if err != nil {
				return domain.Station{}, err
			}
			if len(active) > 0 {
				return domain.Station{}, domain.Conflict(domain.ReasonStateManagedByLeases, "station has an active lease; release it first")
			}
		}
	}
	return q.UpdateStation(ctx, after)
}

func (r *Registry) stateChanged(before, after domain.Station, actor domain.Actor) {
	if before.State == after.State {
		return
	}
	slog.Info("Station state updated",
		"station_id", after.ID,
		"old_state", before.State,
		"new_state", after.State,
		"actor", actor.Username)
	r.publisher.Publish(domain.StateChange{
		StationID: after.ID,
		OldState:  before.State,
		NewState:  after.State,
		ActorID:   actor.ID,
		Actor:     actor.Username,
		At:        after.UpdatedAt,
	})
}

func (r *Registry) Delete(ctx context.Context, id int64) error {
	err := r.store.RunInTx(ctx, func(q store.Queries) error {
		if _, err := q.LockStation(ctx, id); err != nil {
			return err
		}
		active, err := q.ListLeases(ctx, store.LeaseFilter{Active: store.Bool(true), StationID: id, Limit: 1})
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return domain.Conflict(domain.ReasonStationOccupied, "station has an active lease")
		}
		return q.DeleteStation(ctx, id)
	})
	if err != nil {
		return err
	}
	slog.Info("Station deleted", "station_id", id)
	return nil
}

func (r *Registry) List(ctx context.Context, f domain.StationFilter, p domain.PageRequest) (domain.Page[domain.Station], error) {
	p = p.Normalize()
	if f.PortMin != nil && f.PortMax != nil && *f.PortMin > *f.PortMax {
		return domain.Page[domain.Station]{}, &domain.ValidationError{Field: "min", Msg: "must not exceed max"}
	}
	page := domain.Page[domain.Station]{Page: p.Page, PageSize: p.Size}
	err := r.store.View(ctx, func(q store.Queries) error {
		var err error
		page.Items, page.Total, err = q.ListStations(ctx, f, p)
		return err
	})
	if err != nil {
		return domain.Page[domain.Station]{}, err
	}
	return page, nil
}

func (r *Registry) All(ctx context.Context) ([]domain.Station, error) {
	var list []domain.Station
	err := r.store.View(ctx, func(q store.Queries) error {
		var err error
		list, err = q.AllStations(ctx)
		return err
	})
	return list, err
}

// Bind returns the station operations used by the allocation engine inside
// its own unit of work.
func (r *Registry) Bind(q store.Queries) *Tx {
	return &Tx{q: q, now: r.now}
}

type Tx struct {
	q   store.Queries
	now func() time.Time
}

// Lock reads the station and holds it until the unit of work ends.
func (t *Tx) Lock(ctx context.Context, id int64) (domain.Station, error) {
	return t.q.LockStation(ctx, id)
}

func (t *Tx) SetState(ctx context.Context, st domain.Station, state domain.State) (domain.Station, error) {
	st.State = state
	st.UpdatedAt = t.now().UTC()
	return t.q.UpdateStation(ctx, st)
}
