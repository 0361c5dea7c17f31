package handler

import (
	"bytes"
	"net/http"

	"github.com/EternisAI/silo-stations/internal/api/http/dto"
	"github.com/EternisAI/silo-stations/internal/report"
	"github.com/gin-gonic/gin"
)

type ReportHandler struct {
	reports *report.Service
}

func NewReportHandler(reports *report.Service) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Get renders JSON by default, or plain text with ?format=text.
func (h *ReportHandler) Get(c *gin.Context) {
	rep, err := h.reports.Generate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.JSON(http.StatusOK, dto.NewReportResponse(rep))
	case "text":
		var buf bytes.Buffer
		if err := report.RenderText(&buf, rep); err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or text"})
	}
}

func (h *ReportHandler) HTML(c *gin.Context) {
	rep, err := h.reports.Generate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.RenderHTML(&buf, rep); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(rep)+`"`)
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
