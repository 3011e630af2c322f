package lifecycle

import "github.com/iliyamo/repair-sync/internal/model"

// CanView reports whether actor may read r and its message thread. Any
// technician may look at an unclaimed pending job in order to claim it.
func CanView(r model.Repair, actor Actor) bool {
	switch actor.Role {
	case model.RoleCustomer:
		return r.CustomerID == actor.UserID
	case model.RoleTechnician:
		if r.AssignedTo(actor.UserID) {
			return true
		}
		return r.TechnicianID == nil && r.Status == model.StatusPending
	}
	return false
}

// IsParty reports whether actor is the owning customer or the assigned
// technician. Writes other than claim require it.
func IsParty(r model.Repair, actor Actor) bool {
	if actor.Role == model.RoleCustomer {
		return r.CustomerID == actor.UserID
	}
	return actor.Role == model.RoleTechnician && r.AssignedTo(actor.UserID)
}
