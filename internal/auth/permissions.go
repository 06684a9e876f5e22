package auth

import "strings"

// Back-office resources.
const (
	ResourceCompanies    = "companies"
	ResourceUsers        = "users"
	ResourceAPITokens    = "api-tokens"
	ResourceCostMatrices = "cost-matrices"
	ResourceChaseUpRules = "chase-up-rules"
	ResourceJourneys     = "journeys"
)

// Actions applicable to every resource.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

const (
	PermCompaniesView   = ResourceCompanies + ":" + ActionView
	PermCompaniesCreate = ResourceCompanies + ":" + ActionCreate
	PermCompaniesUpdate = ResourceCompanies + ":" + ActionUpdate
	PermCompaniesDelete = ResourceCompanies + ":" + ActionDelete

	PermUsersView   = ResourceUsers + ":" + ActionView
	PermUsersCreate = ResourceUsers + ":" + ActionCreate
	PermUsersUpdate = ResourceUsers + ":" + ActionUpdate
	PermUsersDelete = ResourceUsers + ":" + ActionDelete

	PermAPITokensView   = ResourceAPITokens + ":" + ActionView
	PermAPITokensCreate = ResourceAPITokens + ":" + ActionCreate
	PermAPITokensDelete = ResourceAPITokens + ":" + ActionDelete

	PermCostMatricesView   = ResourceCostMatrices + ":" + ActionView
	PermCostMatricesUpdate = ResourceCostMatrices + ":" + ActionUpdate

	PermChaseUpRulesView   = ResourceChaseUpRules + ":" + ActionView
	PermChaseUpRulesCreate = ResourceChaseUpRules + ":" + ActionCreate
	PermChaseUpRulesUpdate = ResourceChaseUpRules + ":" + ActionUpdate
	PermChaseUpRulesDelete = ResourceChaseUpRules + ":" + ActionDelete

	PermJourneysView   = ResourceJourneys + ":" + ActionView
	PermJourneysCreate = ResourceJourneys + ":" + ActionCreate
	PermJourneysUpdate = ResourceJourneys + ":" + ActionUpdate
	PermJourneysDelete = ResourceJourneys + ":" + ActionDelete
)

// Permission describes one entry of the catalog.
type Permission struct {
	Key         string
	Description string
}

var BuiltinPermissions = []Permission{
	{Key: PermCompaniesView, Description: "List and inspect companies"},
	{Key: PermCompaniesCreate, Description: "Create companies"},
	{Key: PermCompaniesUpdate, Description: "Edit companies"},
	{Key: PermCompaniesDelete, Description: "Delete companies"},
	{Key: PermUsersView, Description: "List users"},
	{Key: PermUsersCreate, Description: "Invite users"},
	{Key: PermUsersUpdate, Description: "Edit users"},
	{Key: PermUsersDelete, Description: "Remove users"},
	{Key: PermAPITokensView, Description: "List API tokens"},
	{Key: PermAPITokensCreate, Description: "Issue API tokens"},
	{Key: PermAPITokensDelete, Description: "Revoke API tokens"},
	{Key: PermCostMatricesView, Description: "View cost matrices"},
	{Key: PermCostMatricesUpdate, Description: "Edit cost matrices"},
	{Key: PermChaseUpRulesView, Description: "View chase-up rules"},
	{Key: PermChaseUpRulesCreate, Description: "Create chase-up rules"},
	{Key: PermChaseUpRulesUpdate, Description: "Edit chase-up rules"},
	{Key: PermChaseUpRulesDelete, Description: "Delete chase-up rules"},
	{Key: PermJourneysView, Description: "View inspection journeys"},
	{Key: PermJourneysCreate, Description: "Create inspection journeys"},
	{Key: PermJourneysUpdate, Description: "Edit inspection journeys"},
	{Key: PermJourneysDelete, Description: "Delete inspection journeys"},
}

// ValidPermission reports whether key has the "resource:action" shape.
// It does not require key to be in the builtin catalog.
func ValidPermission(key string) bool {
	resource, action, ok := strings.Cut(key, ":")
	if !ok || resource == "" || action == "" {
		return false
	}
	if strings.Contains(action, ":") {
		return false
	}
	return strings.TrimSpace(key) == key && !strings.ContainsAny(key, " \t\n")
}

// DefaultPermissions returns the permission set granted to a newly created
// user of the given role. Roles never imply permissions at check time; this
// is only the provisioning default.
func DefaultPermissions(role Role) PermissionSet {
	switch role {
	case RoleSuperAdmin:
		keys := make([]string, 0, len(BuiltinPermissions))
		for _, p := range BuiltinPermissions {
			keys = append(keys, p.Key)
		}
		return NewPermissionSet(keys...)
	case RoleAdmin:
		return NewPermissionSet(
			PermUsersView, PermUsersCreate, PermUsersUpdate, PermUsersDelete,
			PermAPITokensView, PermAPITokensCreate, PermAPITokensDelete,
			PermCostMatricesView, PermCostMatricesUpdate,
			PermChaseUpRulesView, PermChaseUpRulesCreate, PermChaseUpRulesUpdate, PermChaseUpRulesDelete,
			PermJourneysView, PermJourneysCreate, PermJourneysUpdate, PermJourneysDelete,
		)
	case RoleUser:
		return NewPermissionSet(
			PermCostMatricesView,
			PermChaseUpRulesView,
			PermJourneysView,
		)
	default:
		return NewPermissionSet()
	}
}
