package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/database"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/handler"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/internal/router"
	"github.com/noah-isme/gema-exam-api/internal/service"
)

const (
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "admin-pass-123"
	testSeedToken     = "seed-secret"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Code    string                 `json:"code"`
	Data    json.RawMessage        `json:"data"`
	Details map[string]interface{} `json:"details"`
	Meta    json.RawMessage        `json:"meta"`
}

func (e envelope) decode(t *testing.T, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, target))
}

type testServer struct {
	t    *testing.T
	app  *fiber.App
	db   *gorm.DB
	mini *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.New(io.Discard)
	validate := dto.NewValidator()
	gate := authz.NewGate()
	cfg := config.Config{AppName: "exam-api-test", AppEnv: "test"}

	accounts := repository.NewAccountRepository(db)
	refreshes := repository.NewRefreshTokenRepository(db)
	exams := repository.NewExamRepository(db)
	questions := repository.NewQuestionRepository(db)
	results := repository.NewResultRepository(db)

	hasher := service.NewPasswordHasher(bcrypt.MinCost)
	tokens := service.NewTokenService(service.TokenServiceConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		Issuer:        cfg.AppName,
	}, repository.NewTokenBlacklist(client), logger)

	authService := service.NewAuthService(accounts, refreshes, tokens, hasher, service.NewAccountGuard(5, 15*time.Minute), validate, logger)
	accountService := service.NewAccountService(accounts, refreshes, hasher, validate, logger)
	oauthService := service.NewOAuthService(nil, repository.NewOAuthStateStore(client), authService, validate, logger)
	examService := service.NewExamService(exams, questions, gate, validate, logger)
	questionService := service.NewQuestionService(questions, gate, nil, 1, validate, logger)
	attemptService := service.NewAttemptService(exams, results, gate, service.NewResultPublisher(nil, logger), client, time.Minute, validate, logger)
	seedService := service.NewSeedService(accounts, hasher, questionService, service.SeedConfig{
		AdminEmail:    testAdminEmail,
		AdminPassword: testAdminPassword,
		AdminName:     "Administrator",
		Token:         testSeedToken,
	}, logger)

	_, err = seedService.SeedAdmin(context.Background())
	require.NoError(t, err)

	limiterStore := repository.NewRateLimitStore(client)
	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		Auth:            authService,
		AuthHandler:     handler.NewAuthHandler(authService, oauthService, middleware.RateLimit("login", 100, time.Minute, limiterStore), true, logger),
		UserHandler:     handler.NewUserHandler(accountService, gate, true, logger),
		ExamHandler:     handler.NewExamHandler(examService, attemptService, gate, middleware.RateLimit("submit", 100, time.Minute, limiterStore), true, logger),
		QuestionHandler: handler.NewQuestionHandler(questionService, gate, true, logger),
		ResultHandler:   handler.NewResultHandler(attemptService, gate, true, logger),
		SeedHandler:     handler.NewSeedHandler(seedService, true, logger),
		HealthProbes: map[string]handler.HealthProbe{
			"postgres": func(ctx context.Context) error { return database.PingPostgres(ctx, db) },
			"redis":    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		},
	})

	return &testServer{t: t, app: app, db: db, mini: mini}
}

// do sends a JSON request and returns the status, the decoded envelope and
// the raw body for schema checks.
func (s *testServer) do(method, path, token string, body interface{}, headers ...string) (int, envelope, []byte) {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)

	var payload envelope
	require.NoError(s.t, json.Unmarshal(raw, &payload), string(raw))
	return resp.StatusCode, payload, raw
}

type session struct {
	Token string
	User  dto.UserResponse
}

func (s *testServer) register(name, email, role string) session {
	s.t.Helper()

	status, payload, _ := s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "correct-horse-9",
		"role":     role,
	})
	require.Equal(s.t, http.StatusCreated, status, payload.Message)

	var auth dto.AuthResponse
	payload.decode(s.t, &auth)
	require.NotEmpty(s.t, auth.Token)
	return session{Token: auth.Token, User: auth.User}
}

func (s *testServer) login(email, password string) session {
	s.t.Helper()

	status, payload, _ := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(s.t, http.StatusOK, status, payload.Message)

	var auth dto.AuthResponse
	payload.decode(s.t, &auth)
	return session{Token: auth.Token, User: auth.User}
}

func (s *testServer) createQuestion(token string, body map[string]interface{}) dto.QuestionResponse {
	s.t.Helper()

	status, payload, _ := s.do(http.MethodPost, "/api/v1/questions", token, body)
	require.Equal(s.t, http.StatusCreated, status, payload.Message)

	var question dto.QuestionResponse
	payload.decode(s.t, &question)
	return question
}

// createOpenExam schedules a 10 mark exam that is already running and holds
// one multiple choice and one true/false question worth 5 marks each.
func (s *testServer) createOpenExam(token string) (dto.ExamResponse, dto.QuestionResponse, dto.QuestionResponse) {
	s.t.Helper()

	choice := s.createQuestion(token, map[string]interface{}{
		"text":           "What is 2 + 2?",
		"type":           "multiple_choice",
		"options":        []string{"3", "4", "5"},
		"correct_answer": "4",
		"marks":          5,
		"subject":        "Mathematics",
	})
	truth := s.createQuestion(token, map[string]interface{}{
		"text":           "Zero is an even number.",
		"type":           "true_false",
		"correct_answer": "True",
		"marks":          5,
		"subject":        "Mathematics",
	})

	now := time.Now().UTC()
	status, payload, _ := s.do(http.MethodPost, "/api/v1/exams", token, map[string]interface{}{
		"title":            "Arithmetic basics",
		"subject":          "Mathematics",
		"description":      "Warm-up quiz",
		"duration_minutes": 30,
		"start_time":       now.Add(-time.Minute).Format(time.RFC3339),
		"end_time":         now.Add(time.Hour).Format(time.RFC3339),
		"total_marks":      10,
		"passing_marks":    5,
		"question_ids":     []uint{choice.ID, truth.ID},
	})
	require.Equal(s.t, http.StatusCreated, status, payload.Message)

	var exam dto.ExamResponse
	payload.decode(s.t, &exam)
	return exam, choice, truth
}
