package auth

import (
	"go.uber.org/zap"
)

// Operator roles.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Resources and actions guarded by the operator API.
const (
	ResourceDevices      = "devices"
	ResourceTransactions = "transactions"
	ResourceProfiles     = "profiles"
	ResourceCertificates = "certificates"
	ResourceAuthList     = "auth_list"

	ActionRead    = "read"
	ActionCommand = "command"
	ActionManage  = "manage"
)

// Permission represents a single resource-action pair.
type Permission struct {
	Resource string
	Action   string
}

// RBACService maps operator roles to the resource-action pairs they may use.
type RBACService struct {
	permissions map[string]map[Permission]struct{}
	log         *zap.Logger
}

// NewRBACService builds the role table:
//   - viewer:   read everything
//   - operator: viewer plus commands on devices, transactions and profiles
//   - admin:    operator plus certificates and the offline allow-list
func NewRBACService(log *zap.Logger) *RBACService {
	read := []Permission{
		{ResourceDevices, ActionRead},
		{ResourceTransactions, ActionRead},
		{ResourceProfiles, ActionRead},
		{ResourceCertificates, ActionRead},
		{ResourceAuthList, ActionRead},
	}
	operate := append(append([]Permission(nil), read...),
		Permission{ResourceDevices, ActionCommand},
		Permission{ResourceTransactions, ActionCommand},
		Permission{ResourceProfiles, ActionCommand},
	)
	admin := append(append([]Permission(nil), operate...),
		Permission{ResourceTransactions, ActionManage},
		Permission{ResourceCertificates, ActionCommand},
		Permission{ResourceAuthList, ActionManage},
	)

	return &RBACService{
		permissions: map[string]map[Permission]struct{}{
			RoleViewer:   toSet(read),
			RoleOperator: toSet(operate),
			RoleAdmin:    toSet(admin),
		},
		log: log,
	}
}

func toSet(perms []Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// CheckPermission reports whether role may perform action on resource.
func (s *RBACService) CheckPermission(role, resource, action string) bool {
	perms, exists := s.permissions[role]
	if !exists {
		s.log.Warn("unknown role attempted access",
			zap.String("role", role),
			zap.String("resource", resource),
			zap.String("action", action),
		)
		return false
	}
	if _, ok := perms[Permission{Resource: resource, Action: action}]; ok {
		return true
	}
	s.log.Warn("permission denied",
		zap.String("role", role),
		zap.String("resource", resource),
		zap.String("action", action),
	)
	return false
}
