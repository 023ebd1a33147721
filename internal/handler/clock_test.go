package handler_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/service"
)

func startListener(t *testing.T, srv *testServer) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := srv.app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	t.Cleanup(func() {
		_ = srv.app.ShutdownWithTimeout(time.Second)
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})

	return "ws://" + listener.Addr().String()
}

func TestExamClockStreamsFrames(t *testing.T) {
	srv := newTestServer(t)
	teacher := srv.register("Clock Teacher", "clock.teacher@example.com", "teacher")
	student := srv.register("Clock Student", "clock.student@example.com", "student")
	exam, _, _ := srv.createOpenExam(teacher.Token)

	base := startListener(t, srv)
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	conn, resp, err := dialer.Dial(fmt.Sprintf("%s/api/v1/exams/%d/clock?token=%s", base, exam.ID, student.Token), nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var frame dto.ExamClockFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, exam.ID, frame.ExamID)
	require.Equal(t, service.ClockOpen, frame.State)
	require.Zero(t, frame.StartsInSeconds)
	require.Greater(t, frame.RemainingSeconds, int64(0))
	require.WithinDuration(t, time.Now(), frame.ServerTime, 5*time.Second)
}

func TestExamClockRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	teacher := srv.register("Clock Teacher", "clock.owner@example.com", "teacher")
	exam, _, _ := srv.createOpenExam(teacher.Token)

	base := startListener(t, srv)
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	_, resp, err := dialer.Dial(fmt.Sprintf("%s/api/v1/exams/%d/clock", base, exam.ID), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	status, _, _ := srv.do(http.MethodGet, fmt.Sprintf("/api/v1/exams/%d/clock?token=%s", exam.ID, teacher.Token), "", nil)
	require.Equal(t, http.StatusUpgradeRequired, status)
}

func TestExamClockAppliesExamPolicy(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.register("Clock Owner", "clock.creator@example.com", "teacher")
	other := srv.register("Other Teacher", "clock.other@example.com", "teacher")
	exam, _, _ := srv.createOpenExam(owner.Token)

	base := startListener(t, srv)
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	_, resp, err := dialer.Dial(fmt.Sprintf("%s/api/v1/exams/%d/clock?token=%s", base, exam.ID, other.Token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "NOT_EXAM_OWNER", payload.Code)

	conn, ownerResp, err := dialer.Dial(fmt.Sprintf("%s/api/v1/exams/%d/clock?token=%s", base, exam.ID, owner.Token), nil)
	require.NoError(t, err)
	if ownerResp != nil {
		_ = ownerResp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame dto.ExamClockFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, exam.ID, frame.ExamID)
}
