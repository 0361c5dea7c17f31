package leases

import (
	"context"
	"testing"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
	"github.com/EternisAI/silo-stations/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	ledger   *Ledger
	users    []domain.User
	stations []domain.Station
}

func newFixture(t *testing.T, now func() time.Time) fixture {
	t.Helper()
	s := memory.New()
	f := fixture{store: s, ledger: NewLedger(s, now)}
	ctx := context.Background()
	require.NoError(t, s.RunInTx(ctx, func(q store.Queries) error {
		for _, name := range []string{"alice", "bob"} {
			u, err := q.CreateUser(ctx, domain.User{Username: name, Role: domain.RoleUser})
			if err != nil {
				return err
			}
			f.users = append(f.users, u)
		}
		for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
			st, err := q.CreateStation(ctx, domain.Station{IP: ip, Port: 22, State: domain.StateFree})
			if err != nil {
				return err
			}
			f.stations = append(f.stations, st)
		}
		return nil
	}))
	return f
}

func (f fixture) assign(t *testing.T, user, station int) domain.Lease {
	t.Helper()
	var l domain.Lease
	require.NoError(t, f.store.RunInTx(context.Background(), func(q store.Queries) error {
		var err error
		l, err = f.ledger.Bind(q).RecordAssignment(context.Background(), f.users[user].ID, f.stations[station].ID)
		return err
	}))
	return l
}

func TestRecordAssignmentAndRelease(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func() time.Time { return at })
	ctx := context.Background()

	l := f.assign(t, 0, 0)
	assert.True(t, l.Active)
	assert.Equal(t, at, l.CreatedAt)
	assert.Nil(t, l.ReleasedAt)

	occupied, err := f.ledger.IsStationOccupied(ctx, f.stations[0].ID)
	require.NoError(t, err)
	assert.True(t, occupied)

	got, found, err := f.ledger.ActiveByUsername(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, l.ID, got.ID)

	_, found, err = f.ledger.ActiveByStationAndUser(ctx, f.stations[0].ID, f.users[1].ID)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, f.store.RunInTx(ctx, func(q store.Queries) error {
		released, err := f.ledger.Bind(q).RecordRelease(ctx, l)
		require.NoError(t, err)
		assert.False(t, released.Active)
		require.NotNil(t, released.ReleasedAt)
		assert.Equal(t, at, *released.ReleasedAt)
		return nil
	}))

	err = f.store.RunInTx(ctx, func(q store.Queries) error {
		_, err := f.ledger.Bind(q).RecordRelease(ctx, domain.Lease{ID: l.ID, Active: false})
		return err
	})
	assert.True(t, domain.IsConflict(err, domain.ReasonAlreadyReleased))

	inactive, err := f.ledger.AllInactive(ctx)
	require.NoError(t, err)
	assert.Len(t, inactive, 1)
	active, err := f.ledger.AllActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRecentOrdering(t *testing.T) {
	times := []time.Time{
		time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
	}
	i := 0
	f := newFixture(t, func() time.Time { return times[min(i, len(times)-1)] })
	ctx := context.Background()

	var ids []int64
	for i = 0; i < len(times); i++ {
		l := f.assign(t, 0, 0)
		ids = append(ids, l.ID)
		require.NoError(t, f.store.RunInTx(ctx, func(q store.Queries) error {
			_, err := f.ledger.Bind(q).RecordRelease(ctx, l)
			return err
		}))
	}

	recent, err := f.ledger.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, []int64{recent[0].ID, recent[1].ID, recent[2].ID})

	recent, err = f.ledger.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	history, err := f.ledger.AllByUser(ctx, f.users[0].ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	history, err = f.ledger.AllByStation(ctx, f.stations[1].ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGetMissingLease(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ledger.Get(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
