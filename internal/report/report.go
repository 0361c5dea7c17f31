// Package report builds point-in-time statistics over stations, leases and
// users, and renders them as text or HTML.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
)

const DefaultRecentLimit = 10

type Config struct {
	RecentLimit int `mapstructure:"recent_limit"`
}

type StateCount struct {
	State domain.State
	Count int64
}

type StationUsage struct {
	StationID  int64
	IP         string
	Port       int
	State      domain.State
	Username   string
	AssignedAt *time.Time
}

type Report struct {
	GeneratedAt     time.Time
	StationsTotal   int64
	StationsByState []StateCount
	ActiveLeases    int64
	InactiveLeases  int64
	Users           domain.UserStats
	RecentLeases    []domain.Lease
	Stations        []StationUsage
}

// RegularUsers is the number of users without the admin role.
func (r Report) RegularUsers() int64 {
	return r.Users.Total - r.Users.Admins
}

func (r Report) Count(state domain.State) int64 {
	for _, sc := range r.StationsByState {
		if sc.State == state {
			return sc.Count
		}
	}
	return 0
}

type Service struct {
	store       store.Store
	recentLimit int
	now         func() time.Time
}

func NewService(s store.Store, cfg Config, now func() time.Time) *Service {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, recentLimit: cfg.RecentLimit, now: now}
}

// Generate reads everything from a single snapshot, so counts, recent leases
// and the per-station projection agree with each other.
func (s *Service) Generate(ctx context.Context) (Report, error) {
	rep := Report{GeneratedAt: s.now().UTC()}

	err := s.store.View(ctx, func(q store.Queries) error {
		counts, err := q.CountStationsByState(ctx)
		if err != nil {
			return fmt.Errorf("count stations: %w", err)
		}
		rep.StationsByState = make([]StateCount, 0, len(domain.States))
		for _, st := range domain.States {
			rep.StationsByState = append(rep.StationsByState, StateCount{State: st, Count: counts[st]})
			rep.StationsTotal += counts[st]
		}

		rep.ActiveLeases, rep.InactiveLeases, err = q.CountLeases(ctx)
		if err != nil {
			return fmt.Errorf("count leases: %w", err)
		}

		rep.Users, err = q.UserStats(ctx)
		if err != nil {
			return fmt.Errorf("user stats: %w", err)
		}

		rep.RecentLeases, err = q.ListLeases(ctx, store.LeaseFilter{NewestFirst: true, Limit: s.recentLimit})
		if err != nil {
			return fmt.Errorf("recent leases: %w", err)
		}

		all, err := q.AllStations(ctx)
		if err != nil {
			return fmt.Errorf("list stations: %w", err)
		}
		active, err := q.ListLeases(ctx, store.LeaseFilter{Active: store.Bool(true)})
		if err != nil {
			return fmt.Errorf("active leases: %w", err)
		}
		rep.Stations = usage(all, active)
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	return rep, nil
}

func usage(all []domain.Station, active []domain.Lease) []StationUsage {
	byStation := make(map[int64]domain.Lease, len(active))
	for _, l := range active {
		byStation[l.StationID] = l
	}

	out := make([]StationUsage, 0, len(all))
	for _, st := range all {
		u := StationUsage{StationID: st.ID, IP: st.IP, Port: st.Port, State: st.State}
		if l, ok := byStation[st.ID]; ok {
			u.Username = l.Username
			assigned := l.CreatedAt
			u.AssignedAt = &assigned
		}
		out = append(out, u)
	}
	return out
}
