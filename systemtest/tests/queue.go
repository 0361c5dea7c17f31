package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/EternisAI/silo-stations/internal/api/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T, router *gin.Engine) {
	adminToken := loginAs(t, router, "root", "changeme")

	rr := doJSONWithAuth(router, "POST", "/stations", dto.CreateStationRequest{IP: "192.168.20.1", Port: 22, State: "FREE"}, adminToken)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var station dto.StationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &station))

	t.Run("concurrent assign admits exactly one", func(t *testing.T) {
		const n = 10
		tokens := make([]string, n)
		for i := range tokens {
			tokens[i] = loginAs(t, router, fmt.Sprintf("racer%d", i), "password123")
		}

		codes := make([]int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rr := doJSONWithAuth(router, "POST", "/queue/assign", dto.AssignRequest{StationID: station.ID}, tokens[i])
				codes[i] = rr.Code
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, c := range codes {
			if c == http.StatusOK {
				ok++
			} else {
				assert.Equal(t, http.StatusConflict, c)
			}
		}
		assert.Equal(t, 1, ok)

		rr := doJSONWithAuth(router, "GET", "/queue/active", nil, adminToken)
		require.Equal(t, http.StatusOK, rr.Code)
		var active []dto.LeaseResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &active))
		require.Len(t, active, 1)

		rr = doJSONWithAuth(router, "POST", "/queue/release", dto.ReleaseRequest{QueueID: active[0].ID}, adminToken)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSONWithAuth(router, "POST", "/queue/release", dto.ReleaseRequest{QueueID: active[0].ID}, adminToken)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, rr.Body.String(), "AlreadyReleased")

		rr = doJSONWithAuth(router, "GET", fmt.Sprintf("/stations/%d", station.ID), nil, adminToken)
		var after dto.StationResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &after))
		assert.Equal(t, "FREE", after.State)
	})

	t.Run("station delete refused while leased", func(t *testing.T) {
		token := loginAs(t, router, "holder", "password123")
		rr := doJSONWithAuth(router, "POST", "/queue/assign", dto.AssignRequest{StationID: station.ID}, token)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = doJSONWithAuth(router, "DELETE", fmt.Sprintf("/stations/%d", station.ID), nil, adminToken)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, rr.Body.String(), "StationOccupied")
	})
}
