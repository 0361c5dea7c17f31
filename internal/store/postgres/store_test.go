package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
	pgtest "github.com/EternisAI/silo-stations/systemtest/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	pool := pgtest.NewMigratedPool(t)
	s := New(pool, 2*time.Second)
	ctx := context.Background()

	var root domain.User
	require.NoError(t, s.View(ctx, func(q store.Queries) error {
		var err error
		root, err = q.GetUserByUsername(ctx, "root")
		return err
	}))
	assert.Equal(t, domain.RoleAdmin, root.Role)

	var st domain.Station
	require.NoError(t, s.RunInTx(ctx, func(q store.Queries) error {
		var err error
		st, err = q.CreateStation(ctx, domain.Station{IP: "10.0.0.1", Port: 22, State: domain.StateFree, Login: "vm_1", Credential: "h"})
		return err
	}))
	assert.NotZero(t, st.ID)
	assert.False(t, st.CreatedAt.IsZero())

	t.Run("duplicate address", func(t *testing.T) {
		err := s.RunInTx(ctx, func(q store.Queries) error {
			_, err := q.CreateStation(ctx, domain.Station{IP: "10.0.0.1", Port: 23, State: domain.StateOff})
			return err
		})
		assert.True(t, domain.IsConflict(err, domain.ReasonDuplicateAddress))
	})

	t.Run("port check maps to validation", func(t *testing.T) {
		err := s.RunInTx(ctx, func(q store.Queries) error {
			_, err := q.CreateStation(ctx, domain.Station{IP: "10.0.0.200", Port: 70000, State: domain.StateOff})
			return err
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("login filter escapes wildcards", func(t *testing.T) {
		require.NoError(t, s.RunInTx(ctx, func(q store.Queries) error {
			_, err := q.CreateStation(ctx, domain.Station{IP: "10.0.0.2", Port: 22, State: domain.StateOff, Login: "vmx1"})
			return err
		}))
		require.NoError(t, s.View(ctx, func(q store.Queries) error {
			list, total, err := q.ListStations(ctx, domain.StationFilter{Login: "VM_"}, domain.PageRequest{})
			require.NoError(t, err)
			assert.Equal(t, int64(1), total)
			assert.Equal(t, "vm_1", list[0].Login)
			return nil
		}))
	})

	t.Run("concurrent inserts leave one active lease", func(t *testing.T) {
		users := make([]domain.User, 5)
		require.NoError(t, s.RunInTx(ctx, func(q store.Queries) error {
			for i := range users {
				u, err := q.CreateUser(ctx, domain.User{Username: "racer" + string(rune('a'+i)), Role: domain.RoleUser, PasswordHash: "x"})
				if err != nil {
					return err
				}
				users[i] = u
			}
			return nil
		}))

		var wg sync.WaitGroup
		errs := make([]error, len(users))
		for i, u := range users {
			wg.Add(1)
			go func(i int, u domain.User) {
				defer wg.Done()
				errs[i] = s.RunInTx(ctx, func(q store.Queries) error {
					_, err := q.InsertLease(ctx, domain.Lease{UserID: u.ID, StationID: st.ID})
					return err
				})
			}(i, u)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.True(t, domain.IsConflict(err, domain.ReasonStationOccupied), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, ok)

		require.NoError(t, s.View(ctx, func(q store.Queries) error {
			active, err := q.ListLeases(ctx, store.LeaseFilter{Active: store.Bool(true), StationID: st.ID})
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "10.0.0.1", active[0].StationIP)
			return nil
		}))
	})

	t.Run("concurrent inserts give a user one active lease", func(t *testing.T) {
		var holder domain.User
		free := make([]domain.Station, 5)
		require.NoError(t, s.RunInTx(ctx, func(q store.Queries) error {
			var err error
			holder, err = q.CreateUser(ctx, domain.User{Username: "holder", Role: domain.RoleUser, PasswordHash: "x"})
			if err != nil {
				return err
			}
			for i := range free {
				free[i], err = q.CreateStation(ctx, domain.Station{IP: "10.0.1." + string(rune('1'+i)), Port: 22, State: domain.StateFree})
				if err != nil {
					return err
				}
			}
			return nil
		}))

		var wg sync.WaitGroup
		errs := make([]error, len(free))
		for i, station := range free {
			wg.Add(1)
			go func(i int, station domain.Station) {
				defer wg.Done()
				errs[i] = s.RunInTx(ctx, func(q store.Queries) error {
					_, err := q.InsertLease(ctx, domain.Lease{UserID: holder.ID, StationID: station.ID})
					return err
				})
			}(i, station)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.True(t, domain.IsConflict(err, domain.ReasonUserAlreadyLeased), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, ok)

		require.NoError(t, s.View(ctx, func(q store.Queries) error {
			active, err := q.ListLeases(ctx, store.LeaseFilter{Active: store.Bool(true), UserID: holder.ID})
			require.NoError(t, err)
			assert.Len(t, active, 1)
			return nil
		}))
	})

	t.Run("close lease twice", func(t *testing.T) {
		var leaseID int64
		require.NoError(t, s.View(ctx, func(q store.Queries) error {
			active, err := q.ListLeases(ctx, store.LeaseFilter{Active: store.Bool(true)})
			require.NoError(t, err)
			require.NotEmpty(t, active)
			leaseID = active[0].ID
			return nil
		}))

		require.NoError(t, s.RunInTx(ctx, func(q store.Queries) error {
			l, err := q.CloseLease(ctx, leaseID, time.Now())
			require.NoError(t, err)
			assert.False(t, l.Active)
			assert.NotNil(t, l.ReleasedAt)
			return nil
		}))
		err := s.RunInTx(ctx, func(q store.Queries) error {
			_, err := q.CloseLease(ctx, leaseID, time.Now())
			return err
		})
		assert.True(t, domain.IsConflict(err, domain.ReasonAlreadyReleased))

		err = s.RunInTx(ctx, func(q store.Queries) error {
			_, err := q.CloseLease(ctx, 999999, time.Now())
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("delete cascades leases", func(t *testing.T) {
		require.NoError(t, s.RunInTx(ctx, func(q store.Queries) error {
			return q.DeleteStation(ctx, st.ID)
		}))
		require.NoError(t, s.View(ctx, func(q store.Queries) error {
			leases, err := q.ListLeases(ctx, store.LeaseFilter{StationID: st.ID})
			require.NoError(t, err)
			assert.Empty(t, leases)
			return nil
		}))
	})
}
