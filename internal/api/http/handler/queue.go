package handler

import (
	"net/http"

	"github.com/EternisAI/silo-stations/internal/allocation"
	"github.com/EternisAI/silo-stations/internal/api/http/dto"
	"github.com/EternisAI/silo-stations/internal/api/http/middleware"
	"github.com/EternisAI/silo-stations/internal/auth"
	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/leases"
	"github.com/gin-gonic/gin"
)

type QueueHandler struct {
	engine     *allocation.Engine
	ledger     *leases.Ledger
	authorizer *auth.Authorizer
}

func NewQueueHandler(engine *allocation.Engine, ledger *leases.Ledger, authorizer *auth.Authorizer) *QueueHandler {
	return &QueueHandler{engine: engine, ledger: ledger, authorizer: authorizer}
}

// actingFor reports whether the caller may act on userID's leases, writing
// 403 when not.
func (h *QueueHandler) actingFor(c *gin.Context, userID int64) bool {
	p, _ := middleware.CurrentPrincipal(c)
	if p.UserID == userID || h.authorizer.Authorize(p, auth.QueueManage) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	return false
}

func (h *QueueHandler) Assign(c *gin.Context) {
	var req dto.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == 0 {
		p, _ := middleware.CurrentPrincipal(c)
		req.UserID = p.UserID
	}
	if !h.actingFor(c, req.UserID) {
		return
	}

	lease, err := h.engine.Assign(c.Request.Context(), req.UserID, req.StationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponse(lease))
}

func (h *QueueHandler) Release(c *gin.Context) {
	var req dto.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	current, err := h.ledger.Get(c.Request.Context(), req.QueueID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !h.actingFor(c, current.UserID) {
		return
	}

	lease, err := h.engine.Release(c.Request.Context(), req.QueueID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponse(lease))
}

func (h *QueueHandler) Active(c *gin.Context) {
	list, err := h.ledger.AllActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponses(list))
}

func (h *QueueHandler) Inactive(c *gin.Context) {
	list, err := h.ledger.AllInactive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponses(list))
}

func (h *QueueHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	lease, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponse(lease))
}

func (h *QueueHandler) Occupied(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	occupied, err := h.ledger.IsStationOccupied(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.OccupiedResponse{Occupied: occupied})
}

// ActiveRecord returns the user's active lease, or 404 when there is none.
func (h *QueueHandler) ActiveRecord(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.actingFor(c, id) {
		return
	}
	lease, found, err := h.ledger.ActiveByUser(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, domain.NotFound("active lease for user", id))
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponse(lease))
}

func (h *QueueHandler) ActiveByUsername(c *gin.Context) {
	username := c.Param("username")
	lease, found, err := h.ledger.ActiveByUsername(c.Request.Context(), username)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, domain.NotFound("active lease for user", username))
		return
	}
	if !h.actingFor(c, lease.UserID) {
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponse(lease))
}

func (h *QueueHandler) UserHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.actingFor(c, id) {
		return
	}
	list, err := h.ledger.AllByUser(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponses(list))
}

func (h *QueueHandler) StationHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.ledger.AllByStation(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewLeaseResponses(list))
}
