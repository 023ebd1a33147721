package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

var testEpoch = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ResultCompletedEvent
	err    error
}

func (p *recordingPublisher) PublishCompleted(_ context.Context, event ResultCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []ResultCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ResultCompletedEvent(nil), p.events...)
}

type testEnv struct {
	db     *gorm.DB
	mini   *miniredis.Miniredis
	redis  *redis.Client
	clock  *testClock
	hasher PasswordHasher
	events *recordingPublisher

	accounts  repository.AccountRepository
	refreshes repository.RefreshTokenRepository
	exams     repository.ExamRepository
	questionR repository.QuestionRepository
	results   repository.ResultRepository

	tokens    TokenService
	auth      AuthService
	accountS  AccountService
	examS     ExamService
	questionS QuestionService
	attempts  AttemptService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: testEpoch}
	validate := dto.NewValidator()
	logger := testLogger()
	gate := authz.NewGate()

	env := &testEnv{
		db:        db,
		mini:      mini,
		redis:     client,
		clock:     clock,
		hasher:    NewPasswordHasher(bcrypt.MinCost),
		events:    &recordingPublisher{},
		accounts:  repository.NewAccountRepository(db),
		refreshes: repository.NewRefreshTokenRepository(db),
		exams:     repository.NewExamRepository(db),
		questionR: repository.NewQuestionRepository(db),
		results:   repository.NewResultRepository(db),
	}

	tokens := NewTokenService(TokenServiceConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "exam-api-test",
	}, repository.NewTokenBlacklist(client), logger)
	tokens.(*tokenService).now = clock.Now
	env.tokens = tokens

	auth := NewAuthService(env.accounts, env.refreshes, tokens, env.hasher, NewAccountGuard(5, 2*time.Hour), validate, logger)
	auth.(*authService).now = clock.Now
	env.auth = auth

	accountS := NewAccountService(env.accounts, env.refreshes, env.hasher, validate, logger)
	accountS.(*accountService).now = clock.Now
	env.accountS = accountS

	examS := NewExamService(env.exams, env.questionR, gate, validate, logger)
	examS.(*examService).now = clock.Now
	env.examS = examS

	questionS := NewQuestionService(env.questionR, gate, nil, 1, validate, logger)
	questionS.(*questionService).now = clock.Now
	env.questionS = questionS

	attempts := NewAttemptService(env.exams, env.results, gate, env.events, client, time.Minute, validate, logger)
	attempts.(*attemptService).now = clock.Now
	env.attempts = attempts

	return env
}

func (e *testEnv) createAccount(t *testing.T, role models.Role, email, password string) models.Account {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	account := models.Account{Name: string(role) + " user", Email: email, PasswordHash: &hash, Role: role, IsActive: true}
	require.NoError(t, e.accounts.Create(context.Background(), &account))
	return account
}

func identityOf(account models.Account) authz.Identity {
	return authz.Identity{ID: account.ID, Role: account.Role, Email: account.Email}
}

func (e *testEnv) createQuestion(t *testing.T, owner models.Account, subject, answer string, marks int) dto.QuestionResponse {
	t.Helper()
	question, err := e.questionS.Create(context.Background(), identityOf(owner), dto.QuestionCreateRequest{
		Text:          "What is the answer?",
		Type:          string(models.QuestionShortAnswer),
		CorrectAnswer: answer,
		Marks:         marks,
		Subject:       subject,
	})
	require.NoError(t, err)
	return question
}

type examFixture struct {
	start        time.Time
	total        int
	passing      int
	maxAttempts  int
	questionIDs  []uint
	allowedRoles []string
}

func (e *testEnv) createExam(t *testing.T, owner models.Account, fx examFixture) dto.ExamResponse {
	t.Helper()
	if fx.start.IsZero() {
		fx.start = e.clock.Now().Add(time.Hour)
	}
	passing := fx.passing
	exam, err := e.examS.Create(context.Background(), identityOf(owner), dto.ExamCreateRequest{
		Title:           "Physics quiz",
		Subject:         "physics",
		Description:     "Kinematics",
		DurationMinutes: 30,
		StartTime:       fx.start.Format(time.RFC3339),
		EndTime:         fx.start.Add(2 * time.Hour).Format(time.RFC3339),
		TotalMarks:      fx.total,
		PassingMarks:    &passing,
		MaxAttempts:     fx.maxAttempts,
		AllowedRoles:    fx.allowedRoles,
		QuestionIDs:     fx.questionIDs,
	})
	require.NoError(t, err)
	return exam
}
