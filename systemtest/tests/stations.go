package tests

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/EternisAI/silo-stations/internal/api/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStations(t *testing.T, router *gin.Engine) {
	adminToken := loginAs(t, router, "root", "changeme")

	var created dto.StationResponse
	t.Run("create", func(t *testing.T) {
		body := dto.CreateStationRequest{IP: "192.168.10.1", Port: 3389, State: "FREE", Login: "lab", Password: "pw"}
		rr := doJSONWithAuth(router, "POST", "/stations", body, adminToken)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
		assert.NotZero(t, created.ID)
	})

	t.Run("duplicate address", func(t *testing.T) {
		body := dto.CreateStationRequest{IP: "192.168.10.1", Port: 22}
		rr := doJSONWithAuth(router, "POST", "/stations", body, adminToken)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, rr.Body.String(), "DuplicateAddress")
	})

	t.Run("filter", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/stations/filter?login=LA&min=3000&max=4000", nil, adminToken)
		require.Equal(t, http.StatusOK, rr.Code)
		var page dto.StationPageResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		assert.Equal(t, int64(1), page.Total)
	})

	t.Run("export", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/stations/export", nil, adminToken)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, strings.HasPrefix(rr.Body.String(), "ID,IP,Port,State,Login,HashPassword"))
		assert.Contains(t, rr.Body.String(), "192.168.10.1,3389,FREE,lab,pw")
	})

	t.Run("report", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/stations/report", nil, adminToken)
		require.Equal(t, http.StatusOK, rr.Code)
		var rep dto.ReportResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
		assert.GreaterOrEqual(t, rep.StationsTotal, int64(1))
		assert.GreaterOrEqual(t, rep.Users.Admins, int64(1))
	})
}
