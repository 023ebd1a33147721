package models

import "time"

// ResultStatus tracks an attempt through its lifecycle.
type ResultStatus string

const (
	ResultInProgress ResultStatus = "in_progress"
	ResultCompleted  ResultStatus = "completed"
	ResultAbandoned  ResultStatus = "abandoned"
)

// ExamResult is one attempt of a student at an exam.
type ExamResult struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	StudentID       uint           `gorm:"not null;uniqueIndex:idx_result_attempt,priority:1" json:"student_id"`
	ExamID          uint           `gorm:"not null;uniqueIndex:idx_result_attempt,priority:2;index" json:"exam_id"`
	AttemptNumber   int            `gorm:"not null;uniqueIndex:idx_result_attempt,priority:3" json:"attempt_number"`
	Status          ResultStatus   `gorm:"size:16;not null;index" json:"status"`
	TotalMarks      int            `gorm:"not null" json:"total_marks"`
	MarksObtained   int            `gorm:"not null;default:0" json:"marks_obtained"`
	Percentage      float64        `gorm:"not null;default:0" json:"percentage"`
	IsPassed        bool           `gorm:"not null;default:false" json:"is_passed"`
	StartedAt       time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	DurationSeconds int            `gorm:"not null;default:0" json:"duration_seconds"`
	Answers         []ResultAnswer `gorm:"constraint:OnDelete:CASCADE" json:"answers"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ResultAnswer is the scored answer to a single question inside an attempt.
type ResultAnswer struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	ExamResultID     uint   `gorm:"not null;index" json:"-"`
	QuestionID       uint   `gorm:"not null" json:"question_id"`
	Position         int    `gorm:"not null" json:"position"`
	SelectedAnswer   string `gorm:"type:text" json:"selected_answer"`
	IsCorrect        bool   `gorm:"not null" json:"is_correct"`
	MarksObtained    int    `gorm:"not null" json:"marks_obtained"`
	TimeSpentSeconds int    `gorm:"not null;default:0" json:"time_spent_seconds"`
}

// All lists every model owned by the API for migrations.
func All() []interface{} {
	return []interface{}{
		&Account{},
		&RefreshToken{},
		&Question{},
		&Exam{},
		&ExamQuestion{},
		&ExamResult{},
		&ResultAnswer{},
	}
}
