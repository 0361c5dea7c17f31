package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EternisAI/silo-stations/internal/api/http/dto"
	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/stations"
	"github.com/gin-gonic/gin"
)

const maxImportSize = 10 << 20

type StationHandler struct {
	registry *stations.Registry
}

func NewStationHandler(registry *stations.Registry) *StationHandler {
	return &StationHandler{registry: registry}
}

func (h *StationHandler) Create(c *gin.Context) {
	var req dto.CreateStationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.registry.Create(c.Request.Context(), stations.StationInput{
		IP:         req.IP,
		Port:       req.Port,
		State:      domain.State(req.State),
		Login:      req.Login,
		Credential: req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewStationResponse(st))
}

func (h *StationHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateStationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch := stations.StationPatch{
		IP:         req.IP,
		Port:       req.Port,
		Login:      req.Login,
		Credential: req.Password,
	}
	if req.State != nil {
		state := domain.State(*req.State)
		patch.State = &state
	}

	st, err := h.registry.Update(c.Request.Context(), id, patch, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewStationResponse(st))
}

func (h *StationHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.registry.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewStationResponse(st))
}

func (h *StationHandler) List(c *gin.Context) {
	list, err := h.registry.All(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewStationResponses(list))
}

// Filter serves GET /stations/filter?login=&min=&max=&page=&page_size=&sort=.
func (h *StationHandler) Filter(c *gin.Context) {
	f := domain.StationFilter{Login: c.Query("login")}
	var err error
	if f.PortMin, err = optionalInt(c, "min"); err != nil {
		return
	}
	if f.PortMax, err = optionalInt(c, "max"); err != nil {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(domain.DefaultPageSize)))
	p := domain.PageRequest{Page: page, Size: size, Sort: c.DefaultQuery("sort", domain.DefaultSort)}

	result, err := h.registry.List(c.Request.Context(), f, p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewStationPageResponse(result))
}

func optionalInt(c *gin.Context, name string) (*int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, err
	}
	return &v, nil
}

func (h *StationHandler) Export(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.registry.Export(c.Request.Context(), &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="stations.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Import takes a multipart upload in the "file" field.
func (h *StationHandler) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportSize)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()

	summary, err := h.registry.Import(c.Request.Context(), f, actor(c))
	if err != nil {
		// Rows before the failure are committed; report them with the error.
		slog.Error("Station import interrupted", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "import interrupted",
			"summary": dto.NewImportResponse(summary),
		})
		return
	}
	c.JSON(http.StatusOK, dto.NewImportResponse(summary))
}
