package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// QuestionFilter narrows question bank listings.
type QuestionFilter struct {
	CreatedBy  *uint
	Subject    string
	Type       models.QuestionType
	Difficulty string
	Search     string
	Page       int
	PageSize   int
}

// ExamUsage is an active exam holding a question, with the marks of every
// question currently attached to it.
type ExamUsage struct {
	Exam          models.Exam
	AttachedMarks int
}

// QuestionRepository defines persistence operations for the question bank.
type QuestionRepository interface {
	Create(ctx context.Context, question *models.Question) error
	GetByID(ctx context.Context, id uint) (models.Question, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.Question, error)
	List(ctx context.Context, filter QuestionFilter) ([]models.Question, int64, error)
	Update(ctx context.Context, question *models.Question) error
	Delete(ctx context.Context, id uint) error
	UsedByStartedExam(ctx context.Context, id uint, now time.Time) (bool, error)
	ExamsUsing(ctx context.Context, id uint) ([]ExamUsage, error)
}

type questionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository instantiates a GORM-backed repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) Create(ctx context.Context, question *models.Question) error {
	return r.db.WithContext(ctx).Create(question).Error
}

func (r *questionRepository) GetByID(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).First(&question, id).Error; err != nil {
		return models.Question{}, err
	}
	return question, nil
}

func (r *questionRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.Question, error) {
	if len(ids) == 0 {
		return []models.Question{}, nil
	}
	var questions []models.Question
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionRepository) List(ctx context.Context, filter QuestionFilter) ([]models.Question, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Question{})

	if filter.CreatedBy != nil {
		query = query.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.Subject != "" {
		query = query.Where("LOWER(subject) = ?", strings.ToLower(strings.TrimSpace(filter.Subject)))
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Difficulty != "" {
		query = query.Where("difficulty = ?", strings.ToLower(filter.Difficulty))
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(strings.TrimSpace(filter.Search)) + "%"
		query = query.Where("LOWER(text) LIKE ?", pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query.Order("id ASC"), filter.Page, filter.PageSize)

	var questions []models.Question
	if err := query.Find(&questions).Error; err != nil {
		return nil, 0, err
	}

	return questions, total, nil
}

func (r *questionRepository) Update(ctx context.Context, question *models.Question) error {
	return r.db.WithContext(ctx).Save(question).Error
}

func (r *questionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("question_id = ?", id).Delete(&models.ExamQuestion{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Question{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *questionRepository) UsedByStartedExam(ctx context.Context, id uint, now time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ExamQuestion{}).
		Joins("JOIN exams ON exams.id = exam_questions.exam_id").
		Where("exam_questions.question_id = ? AND exams.start_time <= ?", id, now).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *questionRepository) ExamsUsing(ctx context.Context, id uint) ([]ExamUsage, error) {
	var exams []models.Exam
	err := r.db.WithContext(ctx).
		Joins("JOIN exam_questions ON exam_questions.exam_id = exams.id").
		Where("exam_questions.question_id = ? AND exams.is_active = ?", id, true).
		Order("exams.id ASC").
		Find(&exams).Error
	if err != nil || len(exams) == 0 {
		return nil, err
	}

	examIDs := make([]uint, 0, len(exams))
	for _, exam := range exams {
		examIDs = append(examIDs, exam.ID)
	}

	var totals []struct {
		ExamID uint
		Marks  int
	}
	err = r.db.WithContext(ctx).
		Model(&models.ExamQuestion{}).
		Select("exam_questions.exam_id AS exam_id, COALESCE(SUM(questions.marks), 0) AS marks").
		Joins("JOIN questions ON questions.id = exam_questions.question_id").
		Where("exam_questions.exam_id IN ?", examIDs).
		Group("exam_questions.exam_id").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	marks := make(map[uint]int, len(totals))
	for _, total := range totals {
		marks[total.ExamID] = total.Marks
	}

	usages := make([]ExamUsage, 0, len(exams))
	for _, exam := range exams {
		usages = append(usages, ExamUsage{Exam: exam, AttachedMarks: marks[exam.ID]})
	}
	return usages, nil
}
