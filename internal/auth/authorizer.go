package auth

import "strings"

// Capabilities are opaque "RESOURCE:OPERATION" strings checked at the HTTP
// boundary.
const (
	StationCreate = "STATION:CREATE"
	StationUpdate = "STATION:UPDATE"
	StationDelete = "STATION:DELETE"
	StationGetAll = "STATION:GETALL"
	StationGetID  = "STATION:GETID"
	StationFilter = "STATION:FILTER"
	StationExport = "STATION:EXPORT"
	StationImport = "STATION:IMPORT"
	StationReport = "STATION:REPORT"

	QueueAssign       = "QUEUE:ASSIGN"
	QueueRelease      = "QUEUE:RELEASE"
	QueueGetActive    = "QUEUE:GETACTIVE"
	QueueGetActiveAll = "QUEUE:GETACTIVEALL"
	QueueGetInactive  = "QUEUE:GETINACTIVE"
	QueueGetID        = "QUEUE:GETID"
	QueueOccupied     = "QUEUE:OCCUPIED"
	QueueActiveRecord = "QUEUE:ACTIVERECORD"
	QueueHistory      = "QUEUE:HISTORY"
	// QueueManage lets a caller assign and release on behalf of other users.
	QueueManage = "QUEUE:MANAGE"

	UserList = "USER:LIST"

	Wildcard = "*"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   int64
	Username string
	Role     string
}

// DefaultRoleCapabilities applies when configuration names none.
var DefaultRoleCapabilities = map[string][]string{
	"ADMIN": {Wildcard},
	"USER": {
		StationGetAll, StationGetID, StationFilter,
		QueueAssign, QueueRelease, QueueGetActive, QueueGetID,
		QueueOccupied, QueueActiveRecord,
	},
}

type Authorizer struct {
	roles map[string]map[string]bool
}

func NewAuthorizer(roleCapabilities map[string][]string) *Authorizer {
	if len(roleCapabilities) == 0 {
		roleCapabilities = DefaultRoleCapabilities
	}
	a := &Authorizer{roles: make(map[string]map[string]bool, len(roleCapabilities))}
	for role, caps := range roleCapabilities {
		set := make(map[string]bool, len(caps))
		for _, c := range caps {
			set[strings.ToUpper(strings.TrimSpace(c))] = true
		}
		a.roles[strings.ToUpper(role)] = set
	}
	return a
}

func (a *Authorizer) Authorize(p Principal, capability string) bool {
	set := a.roles[strings.ToUpper(p.Role)]
	return set[Wildcard] || set[capability]
}
