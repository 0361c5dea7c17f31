package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EternisAI/silo-stations/internal/api/http/middleware"
	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a bare 500.
func writeError(c *gin.Context, err error) {
	var (
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
		validation *domain.ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &conflict):
		body := gin.H{"error": conflict.Error(), "reason": conflict.Reason}
		if conflict.State != "" {
			body["state"] = conflict.State
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	default:
		requestID, _ := c.Get("request_id")
		slog.Error("Request failed",
			"path", c.Request.URL.Path,
			"request_id", requestID,
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func actor(c *gin.Context) domain.Actor {
	p, _ := middleware.CurrentPrincipal(c)
	return domain.Actor{ID: p.UserID, Username: p.Username}
}
