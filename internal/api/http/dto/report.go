package dto

import (
	"time"

	"github.com/EternisAI/silo-stations/internal/report"
)

type UserStatsResponse struct {
	Total   int64 `json:"total"`
	Admins  int64 `json:"admins"`
	Regular int64 `json:"regular"`
}

type StationUsageResponse struct {
	StationID  int64      `json:"stationId"`
	IP         string     `json:"ip"`
	Port       int        `json:"port"`
	State      string     `json:"state"`
	Username   string     `json:"username,omitempty"`
	AssignedAt *time.Time `json:"assignedAt,omitempty"`
}

type ReportResponse struct {
	GeneratedAt     time.Time              `json:"generatedAt"`
	StationsTotal   int64                  `json:"stationsTotal"`
	StationsByState map[string]int64       `json:"stationsByState"`
	ActiveLeases    int64                  `json:"activeLeases"`
	InactiveLeases  int64                  `json:"inactiveLeases"`
	Users           UserStatsResponse      `json:"users"`
	RecentLeases    []LeaseResponse        `json:"recentLeases"`
	Stations        []StationUsageResponse `json:"stations"`
}

func NewReportResponse(r report.Report) ReportResponse {
	byState := make(map[string]int64, len(r.StationsByState))
	for _, sc := range r.StationsByState {
		byState[string(sc.State)] = sc.Count
	}
	usage := make([]StationUsageResponse, len(r.Stations))
	for i, s := range r.Stations {
		usage[i] = StationUsageResponse{
			StationID:  s.StationID,
			IP:         s.IP,
			Port:       s.Port,
			State:      string(s.State),
			Username:   s.Username,
			AssignedAt: s.AssignedAt,
		}
	}
	return ReportResponse{
		GeneratedAt:     r.GeneratedAt,
		StationsTotal:   r.StationsTotal,
		StationsByState: byState,
		ActiveLeases:    r.ActiveLeases,
		InactiveLeases:  r.InactiveLeases,
		Users: UserStatsResponse{
			Total:   r.Users.Total,
			Admins:  r.Users.Admins,
			Regular: r.RegularUsers(),
		},
		RecentLeases: NewLeaseResponses(r.RecentLeases),
		Stations:     usage,
	}
}
