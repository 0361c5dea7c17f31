package dto

import (
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/stations"
)

type CreateStationRequest struct {
	IP       string `json:"ip" binding:"required"`
	Port     int    `json:"port" binding:"required"`
	State    string `json:"state"`
	Login    string `json:"login"`
	Password string `json:"hashPassword"`
}

type UpdateStationRequest struct {
	IP       *string `json:"ip"`
	Port     *int    `json:"port"`
	State    *string `json:"state"`
	Login    *string `json:"login"`
	Password *string `json:"hashPassword"`
}

// StationResponse never carries the credential.
type StationResponse struct {
	ID        int64     `json:"id"`
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	State     string    `json:"state"`
	Login     string    `json:"login"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StationPageResponse struct {
	Items      []StationResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	TotalPages int               `json:"totalPages"`
}

func NewStationResponse(s domain.Station) StationResponse {
	return StationResponse{
		ID:        s.ID,
		IP:        s.IP,
		Port:      s.Port,
		State:     string(s.State),
		Login:     s.Login,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func NewStationResponses(list []domain.Station) []StationResponse {
	out := make([]StationResponse, len(list))
	for i, s := range list {
		out[i] = NewStationResponse(s)
	}
	return out
}

func NewStationPageResponse(p domain.Page[domain.Station]) StationPageResponse {
	return StationPageResponse{
		Items:      NewStationResponses(p.Items),
		Total:      p.Total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages(),
	}
}

type ImportResponse struct {
	Created int                 `json:"created"`
	Updated int                 `json:"updated"`
	Skipped int                 `json:"skipped"`
	Errored int                 `json:"errored"`
	Errors  []stations.RowError `json:"errors,omitempty"`
}

func NewImportResponse(s stations.ImportSummary) ImportResponse {
	return ImportResponse{
		Created: s.Created,
		Updated: s.Updated,
		Skipped: s.Skipped,
		Errored: s.Errored,
		Errors:  s.Errors,
	}
}
