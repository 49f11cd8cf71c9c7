package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Objects guarded by the authorizer.
const (
	ObjCheatingLogs = "cheatingLogs"
	ObjResults      = "results"
	ObjOwnResults   = "results:own"
	ObjVisibility   = "results:visibility"
	ObjExams        = "exams"
	ObjSubmissions  = "submissions"
	ObjVideo        = "video"
	ObjEvidence     = "evidence"
	ObjReports      = "reports"
	ObjLive         = "live"
)

// Actions.
const (
	ActRead  = "read"
	ActWrite = "write"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`

// examiner inherits candidate, admin inherits examiner.
var defaultPolicy = [][]string{
	{string(RoleCandidate), ObjCheatingLogs, ActWrite},
	{string(RoleCandidate), ObjResults, ActWrite},
	{string(RoleCandidate), ObjOwnResults, ActRead},
	{string(RoleCandidate), ObjSubmissions, ActWrite},
	{string(RoleCandidate), ObjVideo, ActWrite},
	{string(RoleCandidate), ObjEvidence, ActWrite},
	{string(RoleExaminer), ObjCheatingLogs, ActRead},
	{string(RoleExaminer), ObjResults, ActRead},
	{string(RoleExaminer), ObjResults, ActWrite},
	{string(RoleExaminer), ObjVisibility, ActWrite},
	{string(RoleExaminer), ObjExams, ActWrite},
	{string(RoleExaminer), ObjEvidence, ActRead},
	{string(RoleExaminer), ObjReports, ActRead},
	{string(RoleExaminer), ObjLive, ActRead},
	{string(RoleAdmin), "*", "*"},
}

var defaultGroups = [][]string{
	{string(RoleExaminer), string(RoleCandidate)},
	{string(RoleAdmin), string(RoleExaminer)},
}

// Authorizer answers role/object/action questions.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewAuthorizer loads the built-in role policy.
func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	if _, err := e.AddPolicies(defaultPolicy); err != nil {
		return nil, fmt.Errorf("add policies: %w", err)
	}
	if _, err := e.AddGroupingPolicies(defaultGroups); err != nil {
		return nil, fmt.Errorf("add role inheritance: %w", err)
	}
	return &Authorizer{enforcer: e}, nil
}

// Allow reports whether role may perform act on obj. Enforcement errors deny.
func (a *Authorizer) Allow(role Role, obj, act string) bool {
	ok, err := a.enforcer.Enforce(string(role), obj, act)
	return err == nil && ok
}

// Check is Allow returning ErrForbidden on denial.
func (a *Authorizer) Check(p Principal, obj, act string) error {
	if !a.Allow(p.Role, obj, act) {
		return fmt.Errorf("%w: %s may not %s %s", ErrForbidden, p.Role, act, obj)
	}
	return nil
}
