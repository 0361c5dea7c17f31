package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

var _ store.Queries = (*queries)(nil)

const stationColumns = "id, ip, port, state, login, hash_password, created_at, updated_at"

func scanStation(row pgx.Row) (domain.Station, error) {
	var s domain.Station
	var state string
	err := row.Scan(&s.ID, &s.IP, &s.Port, &state, &s.Login, &s.Credential, &s.CreatedAt, &s.UpdatedAt)
	s.State = domain.State(state)
	return s, err
}

func collectStation(row pgx.CollectableRow) (domain.Station, error) {
	return scanStation(row)
}

func (q *queries) stationRow(ctx context.Context, id any, sql string, args ...any) (domain.Station, error) {
	s, err := scanStation(q.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Station{}, domain.NotFound("station", id)
	}
	if err != nil {
		return domain.Station{}, fmt.Errorf("query station: %w", err)
	}
	return s, nil
}

func (q *queries) CreateStation(ctx context.Context, s domain.Station) (domain.Station, error) {
	created, err := scanStation(q.db.QueryRow(ctx, `
		INSERT INTO stations (ip, port, state, login, hash_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()), COALESCE($6, now()))
		RETURNING `+stationColumns,
		s.IP, s.Port, string(s.State), s.Login, s.Credential, nullTime(s.CreatedAt)))
	if err != nil {
		return domain.Station{}, fmt.Errorf("insert station: %w", mapError(err))
	}
	return created, nil
}

func (q *queries) GetStation(ctx context.Context, id int64) (domain.Station, error) {
	return q.stationRow(ctx, id, `SELECT `+stationColumns+` FROM stations WHERE id = $1`, id)
}

func (q *queries) LockStation(ctx context.Context, id int64) (domain.Station, error) {
	return q.stationRow(ctx, id, `SELECT `+stationColumns+` FROM stations WHERE id = $1 FOR UPDATE`, id)
}

func (q *queries) GetStationByIP(ctx context.Context, ip string) (domain.Station, error) {
	return q.stationRow(ctx, ip, `SELECT `+stationColumns+` FROM stations WHERE ip = $1`, ip)
}

func (q *queries) UpdateStation(ctx context.Context, s domain.Station) (domain.Station, error) {
	updated, err := scanStation(q.db.QueryRow(ctx, `
		UPDATE stations
		SET ip = $2, port = $3, state = $4, login = $5, hash_password = $6,
		    updated_at = COALESCE($7, now())
		WHERE id = $1
		RETURNING `+stationColumns,
		s.ID, s.IP, s.Port, string(s.State), s.Login, s.Credential, nullTime(s.UpdatedAt)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Station{}, domain.NotFound("station", s.ID)
	}
	if err != nil {
		return domain.Station{}, fmt.Errorf("update station: %w", mapError(err))
	}
	return updated, nil
}

func (q *queries) DeleteStation(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM stations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete station: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("station", id)
	}
	return nil
}

var stationOrder = map[string]string{
	"login": "login",
	"ip":    "ip",
	"port":  "port",
	"state": "state",
	"id":    "id",
}

func (q *queries) ListStations(ctx context.Context, f domain.StationFilter, p domain.PageRequest) ([]domain.Station, int64, error) {
	p = p.Normalize()

	var where []string
	var args []any
	if f.Login != "" {
		args = append(args, "%"+escapeLike(f.Login)+"%")
		where = append(where, fmt.Sprintf(`login ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if f.PortMin != nil {
		args = append(args, *f.PortMin)
		where = append(where, fmt.Sprintf("port >= $%d", len(args)))
	}
	if f.PortMax != nil {
		args = append(args, *f.PortMax)
		where = append(where, fmt.Sprintf("port <= $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM stations`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stations: %w", err)
	}

	args = append(args, p.Size, p.Offset())
	sql := fmt.Sprintf(`SELECT %s FROM stations%s ORDER BY %s, id LIMIT $%d OFFSET $%d`,
		stationColumns, clause, stationOrder[p.Sort], len(args)-1, len(args))
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list stations: %w", err)
	}
	list, err := pgx.CollectRows(rows, collectStation)
	if err != nil {
		return nil, 0, fmt.Errorf("scan stations: %w", err)
	}
	return list, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (q *queries) AllStations(ctx context.Context) ([]domain.Station, error) {
	rows, err := q.db.Query(ctx, `SELECT `+stationColumns+` FROM stations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	list, err := pgx.CollectRows(rows, collectStation)
	if err != nil {
		return nil, fmt.Errorf("scan stations: %w", err)
	}
	return list, nil
}

func (q *queries) CountStationsByState(ctx context.Context) (map[domain.State]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT state, count(*) FROM stations GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count stations: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.State]int64, len(domain.States))
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan station count: %w", err)
		}
		counts[domain.State(state)] = n
	}
	return counts, rows.Err()
}

const leaseSelect = `
	SELECT l.id, l.user_id, u.username, l.station_id, s.ip, l.active, l.created_at, l.released_at
	FROM leases l
	JOIN users u ON u.id = l.user_id
	JOIN stations s ON s.id = l.station_id`

func scanLease(row pgx.Row) (domain.Lease, error) {
	var l domain.Lease
	err := row.Scan(&l.ID, &l.UserID, &l.Username, &l.StationID, &l.StationIP, &l.Active, &l.CreatedAt, &l.ReleasedAt)
	return l, err
}

func collectLease(row pgx.CollectableRow) (domain.Lease, error) {
	return scanLease(row)
}

func (q *queries) leaseRow(ctx context.Context, id int64, sql string) (domain.Lease, error) {
	l, err := scanLease(q.db.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lease{}, domain.NotFound("lease", id)
	}
	if err != nil {
		return domain.Lease{}, fmt.Errorf("query lease: %w", err)
	}
	return l, nil
}

func (q *queries) InsertLease(ctx context.Context, l domain.Lease) (domain.Lease, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO leases (user_id, station_id, active, created_at)
		VALUES ($1, $2, TRUE, COALESCE($3, now()))
		RETURNING id`,
		l.UserID, l.StationID, nullTime(l.CreatedAt)).Scan(&id)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("insert lease: %w", mapError(err))
	}
	return q.GetLease(ctx, id)
}

func (q *queries) CloseLease(ctx context.Context, id int64, at time.Time) (domain.Lease, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE leases SET active = FALSE, released_at = $2
		WHERE id = $1 AND active`, id, at)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("close lease: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := q.GetLease(ctx, id); err != nil {
			return domain.Lease{}, err
		}
		return domain.Lease{}, domain.Conflict(domain.ReasonAlreadyReleased, "lease is not active")
	}
	return q.GetLease(ctx, id)
}

func (q *queries) GetLease(ctx context.Context, id int64) (domain.Lease, error) {
	return q.leaseRow(ctx, id, leaseSelect+` WHERE l.id = $1`)
}

func (q *queries) LockLease(ctx context.Context, id int64) (domain.Lease, error) {
	return q.leaseRow(ctx, id, leaseSelect+` WHERE l.id = $1 FOR UPDATE OF l`)
}

func (q *queries) ListLeases(ctx context.Context, f store.LeaseFilter) ([]domain.Lease, error) {
	var where []string
	var args []any
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("l.active = $%d", len(args)))
	}
	if f.UserID != 0 {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("l.user_id = $%d", len(args)))
	}
	if f.StationID != 0 {
		args = append(args, f.StationID)
		where = append(where, fmt.Sprintf("l.station_id = $%d", len(args)))
	}
	if f.Username != "" {
		args = append(args, f.Username)
		where = append(where, fmt.Sprintf("u.username = $%d", len(args)))
	}

	sql := leaseSelect
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if f.NewestFirst {
		sql += " ORDER BY l.created_at DESC, l.id DESC"
	} else {
		sql += " ORDER BY l.id"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	list, err := pgx.CollectRows(rows, collectLease)
	if err != nil {
		return nil, fmt.Errorf("scan leases: %w", err)
	}
	return list, nil
}

func (q *queries) CountLeases(ctx context.Context) (int64, int64, error) {
	var active, inactive int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE active), count(*) FILTER (WHERE NOT active)
		FROM leases`).Scan(&active, &inactive)
	if err != nil {
		return 0, 0, fmt.Errorf("count leases: %w", err)
	}
	return active, inactive, nil
}

const userColumns = "id, username, display_name, role, password_hash, created_at"

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &role, &u.PasswordHash, &u.CreatedAt)
	u.Role = domain.Role(role)
	return u, err
}

func collectUser(row pgx.CollectableRow) (domain.User, error) {
	return scanUser(row)
}

func (q *queries) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	created, err := scanUser(q.db.QueryRow(ctx, `
		INSERT INTO users (username, display_name, role, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		u.Username, u.DisplayName, string(u.Role), u.PasswordHash))
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", mapError(err))
	}
	return created, nil
}

func (q *queries) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.NotFound("user", id)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (q *queries) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.NotFound("user", username)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (q *queries) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, int64, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	list, err := pgx.CollectRows(rows, collectUser)
	if err != nil {
		return nil, 0, fmt.Errorf("scan users: %w", err)
	}

	var total int64
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return list, total, nil
}

func (q *queries) UserStats(ctx context.Context) (domain.UserStats, error) {
	var stats domain.UserStats
	err := q.db.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE role = 'ADMIN') FROM users`).Scan(&stats.Total, &stats.Admins)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	return stats, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
