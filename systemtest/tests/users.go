package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/EternisAI/silo-stations/internal/api/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserList(t *testing.T, router *gin.Engine, jwtSecret string) {
	adminToken := loginAs(t, router, "root", "changeme")

	t.Run("list users as admin", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/users", nil, adminToken)
		assert.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListUsersResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.GreaterOrEqual(t, resp.Total, int64(1))
		assert.Equal(t, 1, resp.Page)
		assert.Equal(t, 20, resp.PageSize)
		assert.NotEmpty(t, resp.Users)
		assert.Equal(t, "root", resp.Users[0].Username)
		assert.Equal(t, "ADMIN", resp.Users[0].Role)
	})

	t.Run("list users with pagination", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/users?page=1&page_size=2", nil, adminToken)
		assert.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListUsersResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Page)
		assert.Equal(t, 2, resp.PageSize)
	})

	t.Run("list users 403 for non-admin", func(t *testing.T) {
		token := loginAs(t, router, "regularuser", "password123")
		rr := doJSONWithAuth(router, "GET", "/users", nil, token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("list users 401 without token", func(t *testing.T) {
		rr := doJSON(router, "GET", "/users", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
