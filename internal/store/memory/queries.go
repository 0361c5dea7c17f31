package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
)

type queries struct {
	state    state
	now      func() time.Time
	readOnly bool
}

var _ store.Queries = (*queries)(nil)

func (q *queries) CreateStation(_ context.Context, s domain.Station) (domain.Station, error) {
	if q.readOnly {
		return domain.Station{}, errReadOnly
	}
	if _, taken := q.state.stationByIP[s.IP]; taken {
		return domain.Station{}, domain.Conflict(domain.ReasonDuplicateAddress, s.IP)
	}
	q.state.nextStation++
	s.ID = q.state.nextStation
	if s.CreatedAt.IsZero() {
		s.CreatedAt = q.now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	q.state.stations[s.ID] = s
	q.state.stationByIP[s.IP] = s.ID
	return s, nil
}

func (q *queries) GetStation(_ context.Context, id int64) (domain.Station, error) {
	s, ok := q.state.stations[id]
	if !ok {
		return domain.Station{}, domain.NotFound("station", id)
	}
	return s, nil
}

// LockStation is GetStation: the whole unit of work already holds the
// store's writer lock.
func (q *queries) LockStation(ctx context.Context, id int64) (domain.Station, error) {
	return q.GetStation(ctx, id)
}

func (q *queries) GetStationByIP(_ context.Context, ip string) (domain.Station, error) {
	id, ok := q.state.stationByIP[ip]
	if !ok {
		return domain.Station{}, domain.NotFound("station", ip)
	}
	return q.state.stations[id], nil
}

func (q *queries) UpdateStation(_ context.Context, s domain.Station) (domain.Station, error) {
	if q.readOnly {
		return domain.Station{}, errReadOnly
	}
	old, ok := q.state.stations[s.ID]
	if !ok {
		return domain.Station{}, domain.NotFound("station", s.ID)
	}
	if s.IP != old.IP {
		if _, taken := q.state.stationByIP[s.IP]; taken {
			return domain.Station{}, domain.Conflict(domain.ReasonDuplicateAddress, s.IP)
		}
		delete(q.state.stationByIP, old.IP)
		q.state.stationByIP[s.IP] = s.ID
	}
	s.CreatedAt = old.CreatedAt
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = q.now()
	}
	q.state.stations[s.ID] = s
	return s, nil
}

func (q *queries) DeleteStation(_ context.Context, id int64) error {
	if q.readOnly {
		return errReadOnly
	}
	s, ok := q.state.stations[id]
	if !ok {
		return domain.NotFound("station", id)
	}
	for lid, l := range q.state.leases {
		if l.StationID != id {
			continue
		}
		if l.Active {
			delete(q.state.activeByUser, l.UserID)
		}
		delete(q.state.leases, lid)
	}
	delete(q.state.activeByStation, id)
	delete(q.state.stationByIP, s.IP)
	delete(q.state.stations, id)
	return nil
}

func (q *queries) ListStations(_ context.Context, f domain.StationFilter, p domain.PageRequest) ([]domain.Station, int64, error) {
	p = p.Normalize()
	login := strings.ToLower(f.Login)

	var matched []domain.Station
	for _, s := range q.state.stations {
		if login != "" && !strings.Contains(strings.ToLower(s.Login), login) {
			continue
		}
		if f.PortMin != nil && s.Port < *f.PortMin {
			continue
		}
		if f.PortMax != nil && s.Port > *f.PortMax {
			continue
		}
		matched = append(matched, s)
	}
	sortStations(matched, p.Sort)

	total := int64(len(matched))
	start := p.Offset()
	if start < 0 || start >= len(matched) {
		return []domain.Station{}, total, nil
	}
	end := min(start+p.Size, len(matched))
	return matched[start:end], total, nil
}

func sortStations(list []domain.Station, key string) {
	less := func(a, b domain.Station) (bool, bool) {
		switch key {
		case "ip":
			return a.IP < b.IP, a.IP == b.IP
		case "port":
			return a.Port < b.Port, a.Port == b.Port
		case "state":
			return a.State < b.State, a.State == b.State
		case "id":
			return a.ID < b.ID, a.ID == b.ID
		default:
			return a.Login < b.Login, a.Login == b.Login
		}
	}
	sort.Slice(list, func(i, j int) bool {
		lt, eq := less(list[i], list[j])
		if eq {
			return list[i].ID < list[j].ID
		}
		return lt
	})
}

func (q *queries) AllStations(_ context.Context) ([]domain.Station, error) {
	list := make([]domain.Station, 0, len(q.state.stations))
	for _, s := range q.state.stations {
		list = append(list, s)
	}
	sortStations(list, "id")
	return list, nil
}

func (q *queries) CountStationsByState(_ context.Context) (map[domain.State]int64, error) {
	counts := make(map[domain.State]int64, len(domain.States))
	for _, s := range q.state.stations {
		counts[s.State]++
	}
	return counts, nil
}

func (q *queries) InsertLease(_ context.Context, l domain.Lease) (domain.Lease, error) {
	if q.readOnly {
		return domain.Lease{}, errReadOnly
	}
	if _, ok := q.state.stations[l.StationID]; !ok {
		return domain.Lease{}, domain.NotFound("station", l.StationID)
	}
	if _, ok := q.state.users[l.UserID]; !ok {
		return domain.Lease{}, domain.NotFound("user", l.UserID)
	}
	if _, busy := q.state.activeByStation[l.StationID]; busy {
		return domain.Lease{}, domain.Conflict(domain.ReasonStationOccupied, "station already has an active lease")
	}
	if _, busy := q.state.activeByUser[l.UserID]; busy {
		return domain.Lease{}, domain.Conflict(domain.ReasonUserAlreadyLeased, "user already holds an active lease")
	}
	q.state.nextLease++
	l.ID = q.state.nextLease
	l.Active = true
	l.ReleasedAt = nil
	if l.CreatedAt.IsZero() {
		l.CreatedAt = q.now()
	}
	q.state.leases[l.ID] = l
	q.state.activeByStation[l.StationID] = l.ID
	q.state.activeByUser[l.UserID] = l.ID
	return q.view(l), nil
}

func (q *queries) CloseLease(_ context.Context, id int64, at time.Time) (domain.Lease, error) {
	if q.readOnly {
		return domain.Lease{}, errReadOnly
	}
	l, ok := q.state.leases[id]
	if !ok {
		return domain.Lease{}, domain.NotFound("lease", id)
	}
	if !l.Active {
		return domain.Lease{}, domain.Conflict(domain.ReasonAlreadyReleased, "lease is not active")
	}
	l.Active = false
	l.ReleasedAt = &at
	q.state.leases[id] = l
	delete(q.state.activeByStation, l.StationID)
	delete(q.state.activeByUser, l.UserID)
	return q.view(l), nil
}

func (q *queries) GetLease(_ context.Context, id int64) (domain.Lease, error) {
	l, ok := q.state.leases[id]
	if !ok {
		return domain.Lease{}, domain.NotFound("lease", id)
	}
	return q.view(l), nil
}

func (q *queries) LockLease(ctx context.Context, id int64) (domain.Lease, error) {
	return q.GetLease(ctx, id)
}

func (q *queries) ListLeases(ctx context.Context, f store.LeaseFilter) ([]domain.Lease, error) {
	if f.Active != nil && *f.Active && (f.StationID != 0 || f.UserID != 0 || f.Username != "") {
		return q.activeLease(ctx, f)
	}
	list := []domain.Lease{}
	for _, l := range q.state.leases {
		if f.Active != nil && l.Active != *f.Active {
			continue
		}
		if f.UserID != 0 && l.UserID != f.UserID {
			continue
		}
		if f.StationID != 0 && l.StationID != f.StationID {
			continue
		}
		v := q.view(l)
		if f.Username != "" && v.Username != f.Username {
			continue
		}
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool {
		if f.NewestFirst {
			if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
				return list[i].CreatedAt.After(list[j].CreatedAt)
			}
			return list[i].ID > list[j].ID
		}
		return list[i].ID < list[j].ID
	})
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

// activeLease answers active-lease lookups by station, user or username
// from the indexes instead of scanning.
func (q *queries) activeLease(_ context.Context, f store.LeaseFilter) ([]domain.Lease, error) {
	var id int64
	var ok bool
	switch {
	case f.StationID != 0:
		id, ok = q.state.activeByStation[f.StationID]
	case f.UserID != 0:
		id, ok = q.state.activeByUser[f.UserID]
	default:
		var uid int64
		if uid, ok = q.state.userByName[f.Username]; ok {
			id, ok = q.state.activeByUser[uid]
		}
	}
	if !ok {
		return []domain.Lease{}, nil
	}
	l := q.view(q.state.leases[id])
	if (f.UserID != 0 && l.UserID != f.UserID) || (f.Username != "" && l.Username != f.Username) {
		return []domain.Lease{}, nil
	}
	return []domain.Lease{l}, nil
}

func (q *queries) CountLeases(_ context.Context) (int64, int64, error) {
	active := int64(len(q.state.activeByStation))
	return active, int64(len(q.state.leases)) - active, nil
}

func (q *queries) view(l domain.Lease) domain.Lease {
	l = cloneLease(l)
	l.Username = q.state.users[l.UserID].Username
	l.StationIP = q.state.stations[l.StationID].IP
	return l
}

func (q *queries) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	if q.readOnly {
		return domain.User{}, errReadOnly
	}
	if _, taken := q.state.userByName[u.Username]; taken {
		return domain.User{}, domain.Conflict(domain.ReasonDuplicateUsername, u.Username)
	}
	q.state.nextUser++
	u.ID = q.state.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = q.now()
	}
	q.state.users[u.ID] = u
	q.state.userByName[u.Username] = u.ID
	return u, nil
}

func (q *queries) GetUser(_ context.Context, id int64) (domain.User, error) {
	u, ok := q.state.users[id]
	if !ok {
		return domain.User{}, domain.NotFound("user", id)
	}
	return u, nil
}

func (q *queries) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	id, ok := q.state.userByName[username]
	if !ok {
		return domain.User{}, domain.NotFound("user", username)
	}
	return q.state.users[id], nil
}

func (q *queries) ListUsers(_ context.Context, limit, offset int) ([]domain.User, int64, error) {
	list := make([]domain.User, 0, len(q.state.users))
	for _, u := range q.state.users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	total := int64(len(list))
	if offset < 0 || offset >= len(list) {
		return []domain.User{}, total, nil
	}
	end := len(list)
	if limit > 0 {
		end = min(offset+limit, len(list))
	}
	return list[offset:end], total, nil
}

func (q *queries) UserStats(_ context.Context) (domain.UserStats, error) {
	stats := domain.UserStats{Total: int64(len(q.state.users))}
	for _, u := range q.state.users {
		if u.Role == domain.RoleAdmin {
			stats.Admins++
		}
	}
	return stats, nil
}
