package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/EternisAI/silo-stations/internal/allocation"
	"github.com/EternisAI/silo-stations/internal/api/http/dto"
	"github.com/EternisAI/silo-stations/internal/auth"
	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/leases"
	"github.com/EternisAI/silo-stations/internal/metrics"
	"github.com/EternisAI/silo-stations/internal/notify"
	"github.com/EternisAI/silo-stations/internal/report"
	"github.com/EternisAI/silo-stations/internal/stations"
	"github.com/EternisAI/silo-stations/internal/store/memory"
	"github.com/EternisAI/silo-stations/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router     *gin.Engine
	adminToken string
	aliceToken string
	bobToken   string
	aliceID    int64
	bobID      int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := memory.New()
	userService := users.NewService(s)
	jwtCfg := auth.JWTConfig{Secret: testSecret}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	registry := stations.NewRegistry(s, notify.Nop{}, m, nil)
	ledger := leases.NewLedger(s, nil)

	srvs := &Services{
		AuthService:    auth.NewService(userService, jwtCfg),
		UserService:    userService,
		Authorizer:     auth.NewAuthorizer(nil),
		Engine:         allocation.NewEngine(s, userService, registry, ledger, notify.Nop{}, m, allocation.Config{}),
		Registry:       registry,
		Ledger:         ledger,
		Reports:        report.NewService(s, report.Config{}, nil),
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		JWTSecret:      testSecret,
	}
	router := gin.New()
	SetupRoute(router, srvs)

	ctx := context.Background()
	ts := &testServer{router: router}
	for _, u := range []struct {
		name  string
		role  domain.Role
		token *string
		id    *int64
	}{
		{"root", domain.RoleAdmin, &ts.adminToken, nil},
		{"alice", domain.RoleUser, &ts.aliceToken, &ts.aliceID},
		{"bob", domain.RoleUser, &ts.bobToken, &ts.bobID},
	} {
		info, err := userService.Create(ctx, u.name, "password123", "", u.role)
		require.NoError(t, err)
		token, err := auth.GenerateToken(jwtCfg, info.ID, info.Username, info.Role)
		require.NoError(t, err)
		*u.token = token
		if u.id != nil {
			*u.id = info.ID
		}
	}
	return ts
}

func (ts *testServer) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createStation(t *testing.T, ip, state string) dto.StationResponse {
	t.Helper()
	w := ts.do("POST", "/stations", dto.CreateStationRequest{IP: ip, Port: 22, State: state, Login: "op", Password: "secret"}, ts.adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var st dto.StationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndAuth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusUnauthorized, ts.do("GET", "/stations", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do("GET", "/stations", nil, "garbage").Code)

	w = ts.do("POST", "/auth/register", dto.RegisterRequest{Username: "carol", Password: "password123"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "USER", decode[dto.RegisterResponse](t, w).Role)

	w = ts.do("POST", "/auth/register", dto.RegisterRequest{Username: "carol", Password: "password123"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do("POST", "/auth/login", dto.LoginRequest{Username: "carol", Password: "password123"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decode[dto.LoginResponse](t, w).Token
	assert.Equal(t, http.StatusOK, ts.do("GET", "/stations", nil, token).Code)

	w = ts.do("POST", "/auth/login", dto.LoginRequest{Username: "carol", Password: "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsersRequiresCapability(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/users?page_size=2", nil, ts.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.ListUsersResponse](t, w)
	assert.Equal(t, int64(3), resp.Total)
	assert.Len(t, resp.Users, 2)

	assert.Equal(t, http.StatusForbidden, ts.do("GET", "/users", nil, ts.aliceToken).Code)
}

func TestStationCRUD(t *testing.T) {
	ts := newTestServer(t)

	st := ts.createStation(t, "10.0.0.1", "FREE")
	assert.Equal(t, "FREE", st.State)
	assert.NotContains(t, ts.do("GET", "/stations", nil, ts.adminToken).Body.String(), "secret")

	w := ts.do("POST", "/stations", dto.CreateStationRequest{IP: "10.0.0.1", Port: 22}, ts.adminToken)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DuplicateAddress", decode[map[string]any](t, w)["reason"])

	w = ts.do("POST", "/stations", dto.CreateStationRequest{IP: "not-an-ip", Port: 22}, ts.adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do("POST", "/stations", dto.CreateStationRequest{IP: "10.0.0.9", Port: 22}, ts.aliceToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	state := "REPAIR"
	w = ts.do("PUT", "/stations/1", dto.UpdateStationRequest{State: &state}, ts.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "REPAIR", decode[dto.StationResponse](t, w).State)

	work := "WORK"
	w = ts.do("PUT", "/stations/1", dto.UpdateStationRequest{State: &work}, ts.adminToken)
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/stations/99", nil, ts.aliceToken).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/stations/abc", nil, ts.aliceToken).Code)

	assert.Equal(t, http.StatusNoContent, ts.do("DELETE", "/stations/1", nil, ts.adminToken).Code)
	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/stations/1", nil, ts.adminToken).Code)
}

func TestStationFilter(t *testing.T) {
	ts := newTestServer(t)
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		ts.createStation(t, ip, "FREE")
	}

	w := ts.do("GET", "/stations/filter?login=OP&page=2&page_size=2&sort=ip", nil, ts.aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[dto.StationPageResponse](t, w)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "10.0.0.3", page.Items[0].IP)

	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/stations/filter?min=x", nil, ts.aliceToken).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/stations/filter?min=30&max=20", nil, ts.aliceToken).Code)
}

func TestQueueFlow(t *testing.T) {
	ts := newTestServer(t)
	st := ts.createStation(t, "10.0.0.1", "FREE")

	w := ts.do("POST", "/queue/assign", dto.AssignRequest{StationID: st.ID}, ts.aliceToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	lease := decode[dto.LeaseResponse](t, w)
	assert.Equal(t, ts.aliceID, lease.UserID)
	assert.True(t, lease.Active)
	assert.Nil(t, lease.ReleasedAt)

	w = ts.do("GET", "/queue/station/1/occupied", nil, ts.bobToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dto.OccupiedResponse](t, w).Occupied)

	w = ts.do("POST", "/queue/assign", dto.AssignRequest{StationID: st.ID}, ts.bobToken)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "StationOccupied", decode[map[string]any](t, w)["reason"])

	w = ts.do("POST", "/queue/assign", dto.AssignRequest{UserID: ts.aliceID, StationID: st.ID}, ts.bobToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do("POST", "/queue/release", dto.ReleaseRequest{QueueID: lease.ID}, ts.bobToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do("GET", "/queue/user/by-name/alice/active", nil, ts.aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, lease.ID, decode[dto.LeaseResponse](t, w).ID)

	w = ts.do("GET", "/queue/active", nil, ts.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]dto.LeaseResponse](t, w), 1)
	assert.Equal(t, http.StatusForbidden, ts.do("GET", "/queue/active", nil, ts.aliceToken).Code)

	w = ts.do("POST", "/queue/release", dto.ReleaseRequest{QueueID: lease.ID}, ts.aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	released := decode[dto.LeaseResponse](t, w)
	assert.False(t, released.Active)
	assert.NotNil(t, released.ReleasedAt)

	w = ts.do("POST", "/queue/release", dto.ReleaseRequest{QueueID: lease.ID}, ts.aliceToken)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyReleased", decode[map[string]any](t, w)["reason"])

	w = ts.do("GET", "/stations/1", nil, ts.aliceToken)
	assert.Equal(t, "FREE", decode[dto.StationResponse](t, w).State)

	w = ts.do("GET", "/queue/user/"+itoa(ts.aliceID)+"/active-record", nil, ts.aliceToken)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do("GET", "/queue/inactive", nil, ts.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]dto.LeaseResponse](t, w), 1)

	w = ts.do("POST", "/queue/assign", dto.AssignRequest{UserID: ts.bobID, StationID: st.ID}, ts.adminToken)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, ts.do("POST", "/queue/release", dto.ReleaseRequest{QueueID: 99}, ts.adminToken).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/queue/release", map[string]any{}, ts.adminToken).Code)
}

func TestAssignUnavailableStation(t *testing.T) {
	ts := newTestServer(t)
	st := ts.createStation(t, "10.0.0.1", "REPAIR")

	w := ts.do("POST", "/queue/assign", dto.AssignRequest{StationID: st.ID}, ts.aliceToken)
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "StationNotAvailable", body["reason"])
	assert.Equal(t, "REPAIR", body["state"])
}

func TestImportExport(t *testing.T) {
	ts := newTestServer(t)
	ts.createStation(t, "10.0.0.1", "FREE")

	w := ts.do("GET", "/stations/export", nil, ts.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "stations.csv")
	exported := w.Body.String()
	assert.True(t, strings.HasPrefix(exported, "ID,IP,Port,State,Login,HashPassword\n"))

	csvBody := exported + "2,10.0.0.2,2222,OFF,admin,pw\nshort,row\n3,bad-ip,22,OFF,a,b\n"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "stations.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csvBody))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/stations/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ts.adminToken)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decode[dto.ImportResponse](t, rec)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Errored)

	w = ts.do("POST", "/stations/import", nil, ts.adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	st := ts.createStation(t, "10.0.0.1", "FREE")
	require.Equal(t, http.StatusOK, ts.do("POST", "/queue/assign", dto.AssignRequest{StationID: st.ID}, ts.aliceToken).Code)

	w := ts.do("GET", "/stations/report", nil, ts.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	rep := decode[dto.ReportResponse](t, w)
	assert.Equal(t, int64(1), rep.StationsTotal)
	assert.Equal(t, int64(1), rep.StationsByState["WORK"])
	assert.Equal(t, int64(1), rep.ActiveLeases)
	assert.Equal(t, int64(3), rep.Users.Total)
	require.Len(t, rep.Stations, 1)
	assert.Equal(t, "alice", rep.Stations[0].Username)

	w = ts.do("GET", "/stations/report?format=text", nil, ts.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Leases: active 1, inactive 0")
	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/stations/report?format=pdf", nil, ts.adminToken).Code)

	w = ts.do("GET", "/stations/report/html", nil, ts.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "vm_system_report_")
	assert.Contains(t, w.Body.String(), "<td>alice</td>")

	assert.Equal(t, http.StatusForbidden, ts.do("GET", "/stations/report", nil, ts.aliceToken).Code)

	w = ts.do("GET", "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `silo_stations_lease_operations_total{op="assign",outcome="ok"} 1`)
	assert.Contains(t, w.Body.String(), "silo_stations_http_requests_total")
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
