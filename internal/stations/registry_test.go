package stations

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
	"github.com/EternisAI/silo-stations/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publisher struct {
	mu      sync.Mutex
	changes []domain.StateChange
}

func (p *publisher) Publish(c domain.StateChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
}

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *memory.Store, *publisher) {
	t.Helper()
	s := memory.New()
	pub := &publisher{}
	return NewRegistry(s, pub, nil, func() time.Time { return fixedNow }), s, pub
}

func ptr[T any](v T) *T { return &v }

func TestCreate(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	st, err := r.Create(ctx, StationInput{IP: "10.0.0.1", Port: 3389, Login: "admin"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateOff, st.State)
	assert.Equal(t, fixedNow, st.CreatedAt)

	_, err = r.Create(ctx, StationInput{IP: "10.0.0.1", Port: 22})
	assert.True(t, domain.IsConflict(err, domain.ReasonDuplicateAddress))

	_, err = r.Create(ctx, StationInput{IP: "not-an-ip", Port: 22})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.Create(ctx, StationInput{IP: "10.0.0.2", Port: 0})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.Create(ctx, StationInput{IP: "10.0.0.2", Port: 22, State: "free"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.Create(ctx, StationInput{IP: "10.0.0.2", Port: 22, State: domain.StateWork})
	assert.True(t, domain.IsConflict(err, domain.ReasonStateManagedByLeases))

	v6, err := r.Create(ctx, StationInput{IP: "fd00:0:0::0001", Port: 22})
	require.NoError(t, err)
	assert.Equal(t, "fd00::1", v6.IP)
	_, err = r.Create(ctx, StationInput{IP: "FD00::1", Port: 2222})
	assert.True(t, domain.IsConflict(err, domain.ReasonDuplicateAddress))
	_, err = r.Update(ctx, st.ID, StationPatch{IP: ptr("fd00:0::1")}, domain.Actor{})
	assert.True(t, domain.IsConflict(err, domain.ReasonDuplicateAddress))

	_, err = r.Get(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdatePublishesStateChange(t *testing.T) {
	r, _, pub := newRegistry(t)
	ctx := context.Background()
	st, err := r.Create(ctx, StationInput{IP: "10.0.0.1", Port: 22})
	require.NoError(t, err)

	actor := domain.Actor{ID: 1, Username: "root"}
	updated, err := r.Update(ctx, st.ID, StationPatch{Login: ptr("ops")}, actor)
	require.NoError(t, err)
	assert.Equal(t, "ops", updated.Login)
	assert.Empty(t, pub.changes)

	updated, err = r.Update(ctx, st.ID, StationPatch{State: ptr(domain.StateFree)}, actor)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFree, updated.State)
	require.Len(t, pub.changes, 1)
	assert.Equal(t, domain.StateChange{
		StationID: st.ID, OldState: domain.StateOff, NewState: domain.StateFree,
		ActorID: 1, Actor: "root", At: fixedNow,
	}, pub.changes[0])

	_, err = r.Update(ctx, 404, StationPatch{}, actor)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateRules(t *testing.T) {
	r, s, _ := newRegistry(t)
	ctx := context.Background()
	a, err := r.Create(ctx, StationInput{IP: "10.0.0.1", Port: 22, State: domain.StateFree})
	require.NoError(t, err)
	_, err = r.Create(ctx, StationInput{IP: "10.0.0.2", Port: 22})
	require.NoError(t, err)

	_, err = r.Update(ctx, a.ID, StationPatch{IP: ptr("10.0.0.2")}, domain.Actor{})
	assert.True(t, domain.IsConflict(err, domain.ReasonDuplicateAddress))

	_, err = r.Update(ctx, a.ID, StationPatch{State: ptr(domain.StateWork)}, domain.Actor{})
	assert.True(t, domain.IsConflict(err, domain.ReasonStateManagedByLeases))

	// Put the station under an active lease the way the engine would.
	require.NoError(t, s.RunInTx(ctx, func(q store.Queries) error {
		u, err := q.CreateUser(ctx, domain.User{Username: "alice", Role: domain.RoleUser})
		if err != nil {
			return err
		}
		if _, err := r.Bind(q).SetState(ctx, a, domain.StateWork); err != nil {
			return err
		}
		_, err = q.InsertLease(ctx, domain.Lease{UserID: u.ID, StationID: a.ID})
		return err
	}))

	_, err = r.Update(ctx, a.ID, StationPatch{State: ptr(domain.StateFree)}, domain.Actor{})
	assert.True(t, domain.IsConflict(err, domain.ReasonStateManagedByLeases))

	// Other fields stay editable.
	_, err = r.Update(ctx, a.ID, StationPatch{Port: ptr(2222)}, domain.Actor{})
	assert.NoError(t, err)

	err = r.Delete(ctx, a.ID)
	assert.True(t, domain.IsConflict(err, domain.ReasonStationOccupied))
}

func TestWorkWithoutLeaseCanBeRecovered(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	sum, err := r.Import(ctx, strings.NewReader("ID,IP,Port,State,Login,HashPassword\n1,10.0.0.7,22,WORK,a,b\n"), domain.Actor{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Created)

	all, err := r.All(ctx)
	require.NoError(t, err)
	updated, err := r.Update(ctx, all[0].ID, StationPatch{State: ptr(domain.StateRepair)}, domain.Actor{})
	require.NoError(t, err)
	assert.Equal(t, domain.StateRepair, updated.State)
}

func TestDelete(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	st, err := r.Create(ctx, StationInput{IP: "10.0.0.1", Port: 22})
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, st.ID))
	assert.ErrorIs(t, r.Delete(ctx, st.ID), domain.ErrNotFound)
}

func TestList(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	for i, login := range []string{"Zed", "alpha", "ALPHA-2", "beta"} {
		_, err := r.Create(ctx, StationInput{IP: "10.0.0." + string(rune('1'+i)), Port: 1000 * (i + 1), Login: login})
		require.NoError(t, err)
	}

	page, err := r.List(ctx, domain.StationFilter{}, domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, domain.DefaultPageSize, page.PageSize)
	assert.Equal(t, "ALPHA-2", page.Items[0].Login)

	page, err = r.List(ctx, domain.StationFilter{Login: "alpha", PortMax: ptr(2000)}, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "alpha", page.Items[0].Login)

	page, err = r.List(ctx, domain.StationFilter{PortMin: ptr(2000), PortMax: ptr(3000)}, domain.PageRequest{Size: 1, Page: 2, Sort: "port"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 2, page.TotalPages())
	require.Len(t, page.Items, 1)
	assert.Equal(t, 3000, page.Items[0].Port)

	page, err = r.List(ctx, domain.StationFilter{}, domain.PageRequest{Page: 922337203685477582})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(4), page.Total)

	_, err = r.List(ctx, domain.StationFilter{PortMin: ptr(10), PortMax: ptr(5)}, domain.PageRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestImportScenario(t *testing.T) {
	r, _, pub := newRegistry(t)
	ctx := context.Background()
	header := "ID,IP,Port,State,Login,HashPassword\n"

	sum, err := r.Import(ctx, strings.NewReader(header+"5,10.0.0.5,3389,FREE,admin,secret\n"), domain.Actor{Username: "root"})
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Created: 1}, sum)

	sum, err = r.Import(ctx, strings.NewReader(header+"5,10.0.0.5,3389,REPAIR,admin,secret\n"), domain.Actor{Username: "root"})
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Updated: 1}, sum)

	all, err := r.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StateRepair, all[0].State)
	assert.Equal(t, "secret", all[0].Credential)

	require.Len(t, pub.changes, 1)
	assert.Equal(t, domain.StateFree, pub.changes[0].OldState)
	assert.Equal(t, domain.StateRepair, pub.changes[0].NewState)
}

func TestImportCounters(t *testing.T) {
	r, _, _ := newRegistry(t)
	input := strings.Join([]string{
		"ID,IP,Port,State,Login,HashPassword",
		"1,10.0.0.1,22,FREE,a,h1",
		"2,10.0.0.2,22,free,b,h2",
		"3,10.0.0.3,abc,OFF,c,h3",
		"4,10.0.0.4,22",
		"",
		"5,999.1.1.1,22,OFF,e,h5",
		"6, 10.0.0.6 , 22 , ON ,f,h6",
		`7,10.0.0.7,22,OFF,"quoted, login",h7`,
	}, "\n")

	sum, err := r.Import(context.Background(), strings.NewReader(input), domain.Actor{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Created)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 3, sum.Errored)
	require.Len(t, sum.Errors, 3)
	assert.Equal(t, 3, sum.Errors[0].Line)
	assert.Contains(t, sum.Errors[0].Reason, "unknown state")

	st, err := r.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6", st[1].IP)
	assert.Equal(t, domain.StateOn, st[1].State)
	assert.Equal(t, "quoted, login", st[2].Login)
}

func TestImportSurvivesOverlongLine(t *testing.T) {
	r, _, _ := newRegistry(t)
	input := "ID,IP,Port,State,Login,HashPassword\n" +
		"1,10.0.0.1,22,FREE,a,h\n" +
		"2,10.0.0.2,22,FREE,b," + strings.Repeat("x", maxLineSize+10) + "\n" +
		"3,10.0.0.3,22,FREE,c,h\n"

	sum, err := r.Import(context.Background(), strings.NewReader(input), domain.Actor{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Created)
	assert.Equal(t, 1, sum.Errored)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, 3, sum.Errors[0].Line)
	assert.ErrorContains(t, errLineTooLong, sum.Errors[0].Reason)
}

func TestImportCancelled(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	pr := &cancelAfter{lines: []string{
		"ID,IP,Port,State,Login,HashPassword\n",
		"1,10.0.0.1,22,FREE,a,h\n",
		"2,10.0.0.2,22,FREE,b,h\n",
	}, cancel: cancel, after: 2}

	sum, err := r.Import(ctx, pr, domain.Actor{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Created)

	all, err := r.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "10.0.0.1", all[0].IP)
}

// cancelAfter yields one line per Read and cancels once it has handed out
// the given number of lines.
type cancelAfter struct {
	lines  []string
	cancel context.CancelFunc
	after  int
	served int
}

func (c *cancelAfter) Read(p []byte) (int, error) {
	if c.served >= len(c.lines) {
		return 0, io.EOF
	}
	if c.served == c.after {
		c.cancel()
	}
	n := copy(p, c.lines[c.served])
	c.served++
	return n, nil
}

func TestExportRoundTrip(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	input := "ID,IP,Port,State,Login,HashPassword\n" +
		"1,10.0.0.1,22,FREE,alpha,h1\n" +
		"2,10.0.0.2,3389,REPAIR,beta,h2\n" +
		"3,10.0.0.3,5900,WORK,gamma,h3\n"
	sum, err := r.Import(ctx, strings.NewReader(input), domain.Actor{})
	require.NoError(t, err)
	require.Equal(t, 3, sum.Created)

	var out bytes.Buffer
	require.NoError(t, r.Export(ctx, &out))
	assert.True(t, strings.HasPrefix(out.String(), "ID,IP,Port,State,Login,HashPassword\n"))

	r2, _, _ := newRegistry(t)
	sum, err = r2.Import(ctx, &out, domain.Actor{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Created)

	first, err := r.All(ctx)
	require.NoError(t, err)
	second, err := r2.All(ctx)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].IP, second[i].IP)
		assert.Equal(t, first[i].Port, second[i].Port)
		assert.Equal(t, first[i].State, second[i].State)
		assert.Equal(t, first[i].Login, second[i].Login)
		assert.Equal(t, first[i].Credential, second[i].Credential)
	}
}
