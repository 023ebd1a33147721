package handler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

const clockInterval = time.Second

// ExamHandler wires exam management, attempts and per-exam results.
type ExamHandler struct {
	errorRenderer
	exams         service.ExamService
	attempts      service.AttemptService
	gate          *authz.Gate
	submitLimiter fiber.Handler
	clockInterval time.Duration
}

// NewExamHandler constructs the handler. submitLimiter may be nil.
func NewExamHandler(exams service.ExamService, attempts service.AttemptService, gate *authz.Gate, submitLimiter fiber.Handler, exposeErrors bool, logger zerolog.Logger) *ExamHandler {
	if submitLimiter == nil {
		submitLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &ExamHandler{
		errorRenderer: errorRenderer{logger: logger.With().Str("component", "exam_handler").Logger(), expose: exposeErrors},
		exams:         exams,
		attempts:      attempts,
		gate:          gate,
		submitLimiter: submitLimiter,
		clockInterval: clockInterval,
	}
}

// Register attaches exam endpoints. The group must already run JWTProtected.
func (h *ExamHandler) Register(router fiber.Router) {
	allow := func(action authz.Action) fiber.Handler { return middleware.Authorize(h.gate, action) }

	router.Get("", allow(authz.ActionExamList), h.list)
	router.Post("", allow(authz.ActionExamCreate), h.create)
	router.Get("/:id", allow(authz.ActionExamView), h.get)
	router.Patch("/:id", allow(authz.ActionExamUpdate), h.update)
	router.Delete("/:id", allow(authz.ActionExamDelete), h.delete)

	router.Post("/:id/questions", allow(authz.ActionExamQuestions), h.addQuestions)
	router.Delete("/:id/questions", allow(authz.ActionExamQuestions), h.removeQuestions)
	router.Put("/:id/questions/order", allow(authz.ActionExamQuestions), h.reorderQuestions)

	router.Post("/:id/attempts", allow(authz.ActionExamAttempt), h.submitLimiter, h.startAttempt)
	router.Post("/:id/submit", allow(authz.ActionExamAttempt), h.submitLimiter, h.submit)

	router.Get("/:id/results", allow(authz.ActionExamResults), h.results)
	router.Get("/:id/results/summary", allow(authz.ActionExamResults), h.summary)
}

// ClockRoute returns the websocket handler chain for the exam countdown. It
// authenticates on its own because browsers cannot attach headers to upgrades.
func (h *ExamHandler) ClockRoute(auth middleware.Authenticator) fiber.Handler {
	stream := websocket.New(h.streamClock)
	return middleware.WithAuth(func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return h.handleError(c, fiber.ErrUpgradeRequired)
		}
		identity, id, err := h.target(c)
		if err != nil {
			return h.handleError(c, err)
		}
		// Refuse before upgrading so the client sees a plain 403.
		if _, err := h.exams.Clock(c.UserContext(), identity, id); err != nil {
			return h.handleError(c, err)
		}
		return stream(c)
	}, middleware.AuthOptions{Auth: auth, Gate: h.gate, Action: authz.ActionExamClock, QueryToken: "token"})
}

func (h *ExamHandler) list(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}
	page, pageSize, err := pageQuery(c)
	if err != nil {
		return h.handleError(c, err)
	}

	exams, err := h.exams.List(c.UserContext(), identity, dto.ExamListRequest{
		Subject:  c.Query("subject"),
		Search:   c.Query("search"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, exams.Items, "exams retrieved", exams.Pagination)
}

func (h *ExamHandler) create(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.ExamCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	exam, err := h.exams.Create(c.UserContext(), identity, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "exam created", exam)
}

func (h *ExamHandler) get(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	exam, err := h.exams.Get(c.UserContext(), identity, id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "exam retrieved", exam)
}

func (h *ExamHandler) update(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.ExamUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	exam, err := h.exams.Update(c.UserContext(), identity, id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "exam updated", exam)
}

func (h *ExamHandler) delete(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	if err := h.exams.Delete(c.UserContext(), identity, id); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "exam deleted", fiber.Map{"id": id})
}

type examQuestionsOp func(ctx context.Context, actor authz.Identity, id uint, req dto.ExamQuestionsRequest) (dto.ExamResponse, error)

func (h *ExamHandler) addQuestions(c *fiber.Ctx) error {
	return h.questionsOp(c, h.exams.AddQuestions, "questions added")
}

func (h *ExamHandler) removeQuestions(c *fiber.Ctx) error {
	return h.questionsOp(c, h.exams.RemoveQuestions, "questions removed")
}

func (h *ExamHandler) reorderQuestions(c *fiber.Ctx) error {
	return h.questionsOp(c, h.exams.ReorderQuestions, "questions reordered")
}

func (h *ExamHandler) questionsOp(c *fiber.Ctx, op examQuestionsOp, message string) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.ExamQuestionsRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	exam, err := op(c.UserContext(), identity, id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, message, exam)
}

func (h *ExamHandler) startAttempt(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	attempt, err := h.attempts.Start(c.UserContext(), identity, id)
	if err != nil {
		return h.handleError(c, err)
	}

	status := fiber.StatusCreated
	if attempt.Resumed {
		status = fiber.StatusOK
	}
	return utils.SendSuccessWithStatus(c, status, "attempt started", attempt)
}

func (h *ExamHandler) submit(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.SubmitAttemptRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	result, err := h.attempts.Submit(c.UserContext(), identity, id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt submitted", result)
}

func (h *ExamHandler) results(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}
	page, pageSize, err := pageQuery(c)
	if err != nil {
		return h.handleError(c, err)
	}

	results, err := h.attempts.ListByExam(c.UserContext(), identity, id, dto.ResultListRequest{
		Status:   c.Query("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, results.Items, "results retrieved", results.Pagination)
}

func (h *ExamHandler) summary(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	summary, err := h.attempts.Summary(c.UserContext(), identity, id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "summary retrieved", summary)
}

// streamClock pushes a frame every interval until the exam closes or the
// client goes away.
func (h *ExamHandler) streamClock(conn *websocket.Conn) {
	parsed, _ := strconv.ParseUint(conn.Params("id"), 10, 64)
	id := uint(parsed)
	correlationID, _ := conn.Locals(middleware.LocalCorrelationID).(string)
	ctx := middleware.ContextWithCorrelation(context.Background(), correlationID)
	logger := h.logger.With().Uint("exam_id", id).Str("correlation_id", correlationID).Logger()
	identity := socketIdentity(conn)

	ticker := time.NewTicker(h.clockInterval)
	defer ticker.Stop()

	for {
		frame, err := h.exams.Clock(ctx, identity, id)
		if err != nil {
			_ = conn.WriteJSON(fiber.Map{"error": err.Error()})
			return
		}
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug().Err(err).Msg("clock client disconnected")
			return
		}
		if frame.State == service.ClockClosed {
			return
		}
		<-ticker.C
	}
}

// socketIdentity rebuilds the caller from the locals copied onto the connection.
func socketIdentity(conn *websocket.Conn) authz.Identity {
	id, _ := conn.Locals(middleware.LocalUserID).(uint)
	role, _ := conn.Locals(middleware.LocalUserRole).(string)
	email, _ := conn.Locals(middleware.LocalUserEmail).(string)
	return authz.Identity{ID: id, Role: models.Role(strings.ToLower(strings.TrimSpace(role))), Email: email}
}

func (h *ExamHandler) target(c *fiber.Ctx) (authz.Identity, uint, error) {
	identity, err := identityFromContext(c)
	if err != nil {
		return authz.Identity{}, 0, err
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		return authz.Identity{}, 0, err
	}
	return identity, id, nil
}
