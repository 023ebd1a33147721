package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/observability"
)

// ResultCompletedSubject is the NATS subject for finished attempts.
const ResultCompletedSubject = "exam.results.completed"

// ResultCompletedEvent is broadcast when an attempt is scored.
type ResultCompletedEvent struct {
	ResultID      uint      `json:"result_id"`
	ExamID        uint      `json:"exam_id"`
	StudentID     uint      `json:"student_id"`
	AttemptNumber int       `json:"attempt_number"`
	MarksObtained int       `json:"marks_obtained"`
	TotalMarks    int       `json:"total_marks"`
	Percentage    float64   `json:"percentage"`
	IsPassed      bool      `json:"is_passed"`
	CompletedAt   time.Time `json:"completed_at"`
}

// ResultPublisher fans completed results out to other systems.
type ResultPublisher interface {
	PublishCompleted(ctx context.Context, event ResultCompletedEvent) error
}

type natsResultPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewResultPublisher publishes over NATS; a nil connection yields a publisher that drops events.
func NewResultPublisher(conn *nats.Conn, logger zerolog.Logger) ResultPublisher {
	return &natsResultPublisher{
		conn:    conn,
		subject: ResultCompletedSubject,
		logger:  logger.With().Str("component", "result_publisher").Logger(),
	}
}

func (p *natsResultPublisher) PublishCompleted(_ context.Context, event ResultCompletedEvent) error {
	if p.conn == nil {
		observability.ResultEvents().WithLabelValues("skipped").Inc()
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.conn.Publish(p.subject, payload); err != nil {
		observability.ResultEvents().WithLabelValues("error").Inc()
		return err
	}

	observability.ResultEvents().WithLabelValues("published").Inc()
	p.logger.Debug().Uint("result_id", event.ResultID).Str("subject", p.subject).Msg("result event published")
	return nil
}
