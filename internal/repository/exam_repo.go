package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// ExamFilter describes pagination & search options for exam listings.
type ExamFilter struct {
	CreatedBy   *uint
	Subject     string
	Search      string
	AllowedRole models.Role
	ActiveOnly  bool
	EndsAfter   *time.Time
	Page        int
	PageSize    int
}

// ExamRepository defines persistence operations for exams and their ordered questions.
type ExamRepository interface {
	Create(ctx context.Context, exam *models.Exam, questionIDs []uint) error
	GetByID(ctx context.Context, id uint) (models.Exam, error)
	List(ctx context.Context, filter ExamFilter) ([]models.Exam, int64, error)
	Update(ctx context.Context, exam *models.Exam) error
	SoftDelete(ctx context.Context, id uint) error
	ListQuestions(ctx context.Context, examID uint) ([]models.Question, error)
	ReplaceQuestions(ctx context.Context, examID uint, questionIDs []uint) error
}

type examRepository struct {
	db *gorm.DB
}

// NewExamRepository instantiates a GORM-backed repository.
func NewExamRepository(db *gorm.DB) ExamRepository {
	return &examRepository{db: db}
}

// Create inserts the exam and its ordered question links in one transaction.
func (r *examRepository) Create(ctx context.Context, exam *models.Exam, questionIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Questions").Create(exam).Error; err != nil {
			return err
		}
		return insertLinks(tx, exam.ID, questionIDs)
	})
}

func (r *examRepository) GetByID(ctx context.Context, id uint) (models.Exam, error) {
	var exam models.Exam
	if err := r.db.WithContext(ctx).First(&exam, id).Error; err != nil {
		return models.Exam{}, err
	}
	return exam, nil
}

func (r *examRepository) List(ctx context.Context, filter ExamFilter) ([]models.Exam, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Exam{})

	if filter.CreatedBy != nil {
		query = query.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.EndsAfter != nil {
		query = query.Where("end_time >= ?", *filter.EndsAfter)
	}
	if filter.Subject != "" {
		query = query.Where("LOWER(subject) = ?", strings.ToLower(strings.TrimSpace(filter.Subject)))
	}
	if filter.AllowedRole != "" {
		query = query.Where("CAST(allowed_roles AS TEXT) LIKE ?", fmt.Sprintf("%%%q%%", string(filter.AllowedRole)))
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(strings.TrimSpace(filter.Search)) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query.Order("start_time ASC, id ASC"), filter.Page, filter.PageSize)

	var exams []models.Exam
	if err := query.Find(&exams).Error; err != nil {
		return nil, 0, err
	}

	return exams, total, nil
}

func (r *examRepository) Update(ctx context.Context, exam *models.Exam) error {
	return r.db.WithContext(ctx).Omit("Questions").Save(exam).Error
}

func (r *examRepository) SoftDelete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.Exam{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *examRepository) ListQuestions(ctx context.Context, examID uint) ([]models.Question, error) {
	var links []models.ExamQuestion
	err := r.db.WithContext(ctx).
		Preload("Question").
		Where("exam_id = ?", examID).
		Order("position ASC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}

	questions := make([]models.Question, 0, len(links))
	for _, link := range links {
		questions = append(questions, link.Question)
	}
	return questions, nil
}

// ReplaceQuestions rewrites the ordered question list of an exam in one transaction.
func (r *examRepository) ReplaceQuestions(ctx context.Context, examID uint, questionIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("exam_id = ?", examID).Delete(&models.ExamQuestion{}).Error; err != nil {
			return err
		}
		return insertLinks(tx, examID, questionIDs)
	})
}

func insertLinks(tx *gorm.DB, examID uint, questionIDs []uint) error {
	if len(questionIDs) == 0 {
		return nil
	}
	links := make([]models.ExamQuestion, 0, len(questionIDs))
	for position, questionID := range questionIDs {
		links = append(links, models.ExamQuestion{ExamID: examID, QuestionID: questionID, Position: position})
	}
	return tx.Omit("Question").Create(&links).Error
}
