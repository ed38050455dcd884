package reconcile

import "weeklytotals/internal/core"

// Budget reports whether the remote budget should overwrite the local
// amount. An unset remote budget is inert; staged local changes are never
// touched.
func Budget(local core.Budget, remote RemoteBudget) bool {
	if !remote.IsSet {
		return false
	}
	return !local.IsSet || !local.Amount.Equal(remote.Amount)
}
