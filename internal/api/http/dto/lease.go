package dto

import (
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
)

// AssignRequest leases a station. UserID defaults to the caller.
type AssignRequest struct {
	UserID    int64 `json:"userId"`
	StationID int64 `json:"stationId" binding:"required"`
}

type ReleaseRequest struct {
	QueueID int64 `json:"queueId" binding:"required"`
}

type LeaseResponse struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"userId"`
	Username   string     `json:"username"`
	StationID  int64      `json:"stationId"`
	StationIP  string     `json:"stationIp"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"createdAt"`
	ReleasedAt *time.Time `json:"releasedAt"`
}

type OccupiedResponse struct {
	Occupied bool `json:"occupied"`
}

func NewLeaseResponse(l domain.Lease) LeaseResponse {
	return LeaseResponse{
		ID:         l.ID,
		UserID:     l.UserID,
		Username:   l.Username,
		StationID:  l.StationID,
		StationIP:  l.StationIP,
		Active:     l.Active,
		CreatedAt:  l.CreatedAt,
		ReleasedAt: l.ReleasedAt,
	}
}

func NewLeaseResponses(list []domain.Lease) []LeaseResponse {
	out := make([]LeaseResponse, len(list))
	for i, l := range list {
		out[i] = NewLeaseResponse(l)
	}
	return out
}
