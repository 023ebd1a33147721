// Package authz decides whether an authenticated identity may perform an action.
//
// The Gate is evaluated once per request: the role table answers "may this role
// attempt the action at all", then the role's policy applies the ownership,
// schedule and attempt rules against the resource. Every denial is an
// *apperror.Error with a stable code the client can branch on.
package authz

import (
	"net/http"
	"time"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/models"
)

// Action names an operation guarded by the gate.
type Action string

const (
	ActionExamList      Action = "exam:list"
	ActionExamView      Action = "exam:view"
	ActionExamCreate    Action = "exam:create"
	ActionExamUpdate    Action = "exam:update"
	ActionExamDelete    Action = "exam:delete"
	ActionExamQuestions Action = "exam:questions"
	ActionExamAttempt   Action = "exam:attempt"
	ActionExamResults   Action = "exam:results"
	ActionExamClock     Action = "exam:clock"

	ActionQuestionView   Action = "question:view"
	ActionQuestionCreate Action = "question:create"
	ActionQuestionUpdate Action = "question:update"
	ActionQuestionDelete Action = "question:delete"

	ActionResultView Action = "result:view"
	ActionUserManage Action = "user:manage"
	ActionProfile    Action = "profile:manage"
)

// Denial codes returned by the gate.
var (
	ErrNotExamOwner       = apperror.New(http.StatusForbidden, "NOT_EXAM_OWNER", "only the exam creator may perform this action")
	ErrNotQuestionOwner   = apperror.New(http.StatusForbidden, "NOT_QUESTION_OWNER", "only the question creator may perform this action")
	ErrNotResultOwner     = apperror.New(http.StatusForbidden, "NOT_RESULT_OWNER", "result belongs to another account")
	ErrExamAlreadyStarted = apperror.New(http.StatusForbidden, "EXAM_ALREADY_STARTED", "exam has already started and can no longer be modified")
	ErrExamInactive       = apperror.New(http.StatusForbidden, "EXAM_INACTIVE", "exam is no longer active")
	ErrExamTimeRestricted = apperror.New(http.StatusForbidden, "EXAM_TIME_RESTRICTED", "exam is not available at this time")
	ErrStudentNotAllowed  = apperror.New(http.StatusForbidden, "STUDENT_NOT_ALLOWED", "students are not allowed to take this exam")
	ErrMaxAttemptsReached = apperror.New(http.StatusForbidden, "MAX_ATTEMPTS_REACHED", "maximum number of attempts reached")
)

// Identity is the verified caller.
type Identity struct {
	ID    uint
	Role  models.Role
	Email string
}

// Request bundles everything a decision needs. Exam, OwnerID and PriorAttempts are
// only consulted by the actions that involve them.
type Request struct {
	Identity      Identity
	Action        Action
	Now           time.Time
	Exam          *models.Exam
	OwnerID       *uint
	PriorAttempts int
}

var rolePermissions = map[models.Role][]Action{
	models.RoleStudent: {
		ActionExamList, ActionExamView, ActionExamAttempt, ActionExamClock,
		ActionResultView, ActionProfile,
	},
	models.RoleTeacher: {
		ActionExamList, ActionExamView, ActionExamCreate, ActionExamUpdate, ActionExamDelete,
		ActionExamQuestions, ActionExamResults, ActionExamClock,
		ActionQuestionView, ActionQuestionCreate, ActionQuestionUpdate, ActionQuestionDelete,
		ActionResultView, ActionProfile,
	},
	models.RoleAdmin: {
		ActionExamList, ActionExamView, ActionExamCreate, ActionExamUpdate, ActionExamDelete,
		ActionExamQuestions, ActionExamResults, ActionExamClock,
		ActionQuestionView, ActionQuestionCreate, ActionQuestionUpdate, ActionQuestionDelete,
		ActionResultView, ActionUserManage, ActionProfile,
	},
}

// Gate is the single authorization capability shared by middleware and services.
type Gate struct {
	permissions map[models.Role]map[Action]struct{}
	policies    map[models.Role]policy
}

// NewGate builds a gate with the default role table.
func NewGate() *Gate {
	permissions := make(map[models.Role]map[Action]struct{}, len(rolePermissions))
	for role, actions := range rolePermissions {
		set := make(map[Action]struct{}, len(actions))
		for _, action := range actions {
			set[action] = struct{}{}
		}
		permissions[role] = set
	}

	return &Gate{
		permissions: permissions,
		policies: map[models.Role]policy{
			models.RoleStudent: studentPolicy{},
			models.RoleTeacher: teacherPolicy{},
			models.RoleAdmin:   adminPolicy{},
		},
	}
}

// Can reports whether the role may attempt the action, ignoring resource rules.
func (g *Gate) Can(role models.Role, action Action) bool {
	_, ok := g.permissions[role][action]
	return ok
}

// Permit is the role-table half of Authorize, used by route middleware before
// any resource has been loaded.
func (g *Gate) Permit(role models.Role, action Action) error {
	if g.Can(role, action) {
		return nil
	}
	return apperror.ErrInsufficientRole.
		WithDetail("role", role).
		WithDetail("action", action).
		WithDetail("required_roles", g.rolesFor(action))
}

// Authorize returns nil when the request is allowed, otherwise an *apperror.Error.
func (g *Gate) Authorize(req Request) error {
	if err := g.Permit(req.Identity.Role, req.Action); err != nil {
		return err
	}

	p, ok := g.policies[req.Identity.Role]
	if !ok {
		return apperror.ErrInsufficientRole
	}

	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	return p.authorize(req)
}

func (g *Gate) rolesFor(action Action) []models.Role {
	roles := make([]models.Role, 0, 3)
	for _, role := range []models.Role{models.RoleStudent, models.RoleTeacher, models.RoleAdmin} {
		if g.Can(role, action) {
			roles = append(roles, role)
		}
	}
	return roles
}
