package authz

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/models"
)

type policy interface {
	authorize(req Request) error
}

type studentPolicy struct{}

func (studentPolicy) authorize(req Request) error {
	switch req.Action {
	case ActionExamView:
		return examAccess(req, false)
	case ActionExamAttempt:
		return examAccess(req, true)
	case ActionExamClock:
		return examVisible(req)
	case ActionResultView:
		if req.OwnerID == nil || *req.OwnerID != req.Identity.ID {
			return ErrNotResultOwner
		}
		return nil
	default:
		return nil
	}
}

type teacherPolicy struct{}

func (teacherPolicy) authorize(req Request) error {
	switch req.Action {
	case ActionExamView, ActionExamResults, ActionExamClock:
		return examOwner(req)
	case ActionExamUpdate, ActionExamQuestions, ActionExamDelete:
		if err := examOwner(req); err != nil {
			return err
		}
		return notStarted(req.Exam, req.Now)
	case ActionQuestionView, ActionQuestionUpdate, ActionQuestionDelete:
		if req.OwnerID == nil || *req.OwnerID != req.Identity.ID {
			return ErrNotQuestionOwner
		}
		return nil
	case ActionResultView:
		return examOwner(req)
	default:
		return nil
	}
}

type adminPolicy struct{}

func (adminPolicy) authorize(req Request) error {
	switch req.Action {
	case ActionExamUpdate, ActionExamQuestions:
		if req.Exam == nil {
			return apperror.ErrExamNotFound
		}
		return notStarted(req.Exam, req.Now)
	default:
		return nil
	}
}

func examOwner(req Request) error {
	if req.Exam == nil {
		return apperror.ErrExamNotFound
	}
	if req.Exam.CreatedBy != req.Identity.ID {
		return ErrNotExamOwner.WithDetail("exam_id", req.Exam.ID)
	}
	return nil
}

func notStarted(exam *models.Exam, now time.Time) error {
	if exam.HasStarted(now) {
		return ErrExamAlreadyStarted.
			WithDetail("exam_id", exam.ID).
			WithDetail("start_time", exam.StartTime)
	}
	return nil
}

// examVisible admits an active exam to the roles it allows, ignoring the window.
func examVisible(req Request) error {
	exam := req.Exam
	if exam == nil {
		return apperror.ErrExamNotFound
	}
	if !exam.IsActive {
		return ErrExamInactive.WithDetail("exam_id", exam.ID)
	}
	if !exam.Allows(req.Identity.Role) {
		return ErrStudentNotAllowed.
			WithDetail("exam_id", exam.ID).
			WithDetail("allowed_roles", exam.AllowedRoles)
	}
	return nil
}

func examAccess(req Request, attempting bool) error {
	if err := examVisible(req); err != nil {
		return err
	}

	exam := req.Exam
	if !exam.IsOpen(req.Now) {
		return ErrExamTimeRestricted.
			WithDetail("exam_id", exam.ID).
			WithDetail("start_time", exam.StartTime).
			WithDetail("end_time", exam.EndTime).
			WithDetail("server_time", req.Now)
	}

	if attempting && req.PriorAttempts >= exam.MaxAttempts {
		return ErrMaxAttemptsReached.
			WithDetail("exam_id", exam.ID).
			WithDetail("max_attempts", exam.MaxAttempts).
			WithDetail("attempts_used", req.PriorAttempts)
	}

	return nil
}
