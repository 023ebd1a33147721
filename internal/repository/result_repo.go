package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// ErrResultStateChanged is returned when a conditional status transition matched no in-progress row.
var ErrResultStateChanged = errors.New("result is no longer in progress")

// ResultFilter narrows result listings.
type ResultFilter struct {
	StudentID *uint
	ExamID    *uint
	Status    models.ResultStatus
	Page      int
	PageSize  int
}

// ResultSummary aggregates finished attempts of one exam.
type ResultSummary struct {
	ExamID            uint    `json:"exam_id"`
	Attempts          int64   `json:"attempts"`
	Passed            int64   `json:"passed"`
	AveragePercentage float64 `json:"average_percentage"`
	HighestPercentage float64 `json:"highest_percentage"`
	LowestPercentage  float64 `json:"lowest_percentage"`
}

// ResultRepository persists exam attempts and their scored answers.
type ResultRepository interface {
	Create(ctx context.Context, result *models.ExamResult) error
	GetByID(ctx context.Context, id uint) (models.ExamResult, error)
	GetInProgress(ctx context.Context, studentID, examID uint) (models.ExamResult, error)
	CountAttempts(ctx context.Context, studentID, examID uint) (int64, error)
	CountFinished(ctx context.Context, studentID, examID uint) (int64, error)
	Complete(ctx context.Context, result *models.ExamResult) error
	Abandon(ctx context.Context, id uint) error
	List(ctx context.Context, filter ResultFilter) ([]models.ExamResult, int64, error)
	Summary(ctx context.Context, examID uint) (ResultSummary, error)
}

type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository instantiates a GORM-backed repository.
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

// Create inserts the attempt together with any scored answers. A clash on
// (student, exam, attempt number) surfaces as gorm.ErrDuplicatedKey.
func (r *resultRepository) Create(ctx context.Context, result *models.ExamResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

func (r *resultRepository) GetByID(ctx context.Context, id uint) (models.ExamResult, error) {
	var result models.ExamResult
	err := r.db.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&result, id).Error
	if err != nil {
		return models.ExamResult{}, err
	}
	return result, nil
}

func (r *resultRepository) GetInProgress(ctx context.Context, studentID, examID uint) (models.ExamResult, error) {
	var result models.ExamResult
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND exam_id = ? AND status = ?", studentID, examID, models.ResultInProgress).
		Order("attempt_number DESC").
		First(&result).Error
	if err != nil {
		return models.ExamResult{}, err
	}
	return result, nil
}

// CountAttempts counts every attempt row, used to derive the next attempt number.
func (r *resultRepository) CountAttempts(ctx context.Context, studentID, examID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ExamResult{}).
		Where("student_id = ? AND exam_id = ?", studentID, examID).
		Count(&count).Error
	return count, err
}

// CountFinished counts completed and abandoned attempts.
func (r *resultRepository) CountFinished(ctx context.Context, studentID, examID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ExamResult{}).
		Where("student_id = ? AND exam_id = ? AND status IN ?", studentID, examID,
			[]models.ResultStatus{models.ResultCompleted, models.ResultAbandoned}).
		Count(&count).Error
	return count, err
}

// Complete moves an in-progress attempt to completed and stores its answers.
// Only one caller can win the transition; the loser gets ErrResultStateChanged.
func (r *resultRepository) Complete(ctx context.Context, result *models.ExamResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&models.ExamResult{}).
			Where("id = ? AND status = ?", result.ID, models.ResultInProgress).
			Updates(map[string]interface{}{
				"status":           models.ResultCompleted,
				"total_marks":      result.TotalMarks,
				"marks_obtained":   result.MarksObtained,
				"percentage":       result.Percentage,
				"is_passed":        result.IsPassed,
				"completed_at":     result.CompletedAt,
				"duration_seconds": result.DurationSeconds,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return ErrResultStateChanged
		}

		if len(result.Answers) == 0 {
			return nil
		}
		for i := range result.Answers {
			result.Answers[i].ExamResultID = result.ID
		}
		return tx.Create(&result.Answers).Error
	})
}

func (r *resultRepository) Abandon(ctx context.Context, id uint) error {
	update := r.db.WithContext(ctx).
		Model(&models.ExamResult{}).
		Where("id = ? AND status = ?", id, models.ResultInProgress).
		Update("status", models.ResultAbandoned)
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected == 0 {
		return ErrResultStateChanged
	}
	return nil
}

func (r *resultRepository) List(ctx context.Context, filter ResultFilter) ([]models.ExamResult, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ExamResult{})

	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.ExamID != nil {
		query = query.Where("exam_id = ?", *filter.ExamID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query.Order("started_at DESC, id DESC"), filter.Page, filter.PageSize)

	var results []models.ExamResult
	if err := query.Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r *resultRepository) Summary(ctx context.Context, examID uint) (ResultSummary, error) {
	var row struct {
		Attempts int64
		Passed   int64
		Average  *float64
		Highest  *float64
		Lowest   *float64
	}

	err := r.db.WithContext(ctx).
		Model(&models.ExamResult{}).
		Select(`COUNT(*) AS attempts,
			COALESCE(SUM(CASE WHEN is_passed THEN 1 ELSE 0 END), 0) AS passed,
			AVG(percentage) AS average,
			MAX(percentage) AS highest,
			MIN(percentage) AS lowest`).
		Where("exam_id = ? AND status = ?", examID, models.ResultCompleted).
		Scan(&row).Error
	if err != nil {
		return ResultSummary{}, err
	}

	summary := ResultSummary{ExamID: examID, Attempts: row.Attempts, Passed: row.Passed}
	if row.Average != nil {
		summary.AveragePercentage = *row.Average
	}
	if row.Highest != nil {
		summary.HighestPercentage = *row.Highest
	}
	if row.Lowest != nil {
		summary.LowestPercentage = *row.Lowest
	}
	return summary, nil
}
