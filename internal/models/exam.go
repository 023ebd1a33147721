package models

import (
	"time"

	"gorm.io/datatypes"
)

// Exam is a scheduled, scored set of questions authored by a teacher.
type Exam struct {
	ID              uint                     `gorm:"primaryKey" json:"id"`
	Title           string                   `gorm:"size:255;not null" json:"title"`
	Subject         string                   `gorm:"size:128;not null;index" json:"subject"`
	Description     string                   `gorm:"type:text" json:"description"`
	DurationMinutes int                      `gorm:"not null" json:"duration_minutes"`
	StartTime       time.Time                `gorm:"not null;index" json:"start_time"`
	EndTime         time.Time                `gorm:"not null" json:"end_time"`
	TotalMarks      int                      `gorm:"not null" json:"total_marks"`
	PassingMarks    int                      `gorm:"not null" json:"passing_marks"`
	MaxAttempts     int                      `gorm:"not null;default:1" json:"max_attempts"`
	AllowedRoles    datatypes.JSONSlice[Role] `gorm:"type:json" json:"allowed_roles"`
	IsActive        bool                     `gorm:"not null;default:true;index" json:"is_active"`
	CreatedBy       uint                     `gorm:"not null;index" json:"created_by"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	Questions       []ExamQuestion           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// HasStarted reports whether the exam window has opened at the reference time.
func (e Exam) HasStarted(reference time.Time) bool {
	return !reference.Before(e.StartTime)
}

// IsOpen reports whether the reference time falls inside [StartTime, EndTime].
func (e Exam) IsOpen(reference time.Time) bool {
	return !reference.Before(e.StartTime) && !reference.After(e.EndTime)
}

// Allows reports whether the role may sit the exam.
func (e Exam) Allows(role Role) bool {
	for _, allowed := range e.AllowedRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

// ExamQuestion is the ordered reference from an exam to a bank question.
type ExamQuestion struct {
	ExamID     uint     `gorm:"primaryKey"`
	QuestionID uint     `gorm:"primaryKey;index"`
	Position   int      `gorm:"not null"`
	Question   Question `gorm:"constraint:OnDelete:CASCADE"`
}
