package handler_test

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

type attemptView struct {
	ID               uint     `json:"id"`
	State            string   `json:"state"`
	Score            *float64 `json:"score"`
	Released         bool     `json:"released"`
	RemainingSeconds *int64   `json:"remaining_seconds"`
	Questions        []struct {
		ID   uint   `json:"id"`
		Type string `json:"type"`
	} `json:"questions"`
}

func decodeAttempt(t *testing.T, body envelope) attemptView {
	t.Helper()
	var view attemptView
	require.NoError(t, json.Unmarshal(body.Data, &view), string(body.Data))
	return view
}

func startAttempt(t *testing.T, a *testApp, assessmentID uint) attemptView {
	t.Helper()
	status, body := a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/assessments/%d/attempts", assessmentID), studentID, "student", nil)
	require.Equal(t, fiber.StatusCreated, status, body.Message)
	return decodeAttempt(t, body)
}

func correctAnswer(questionType string) map[string]interface{} {
	switch questionType {
	case string(models.QuestionTypeMultipleChoice):
		return map[string]interface{}{"kind": "choice", "choice": 1}
	case string(models.QuestionTypeTrueFalse):
		return map[string]interface{}{"kind": "bool", "value": "True"}
	default:
		return map[string]interface{}{"kind": "text", "text": "because"}
	}
}

func TestAttemptLifecycleOverHTTP(t *testing.T) {
	a := setupApp(t)
	assessmentID := publishedQuiz(t, a, 30)

	attempt := startAttempt(t, a, assessmentID)
	require.Equal(t, string(models.AttemptStateInProgress), attempt.State)
	require.Len(t, attempt.Questions, 2)
	require.NotNil(t, attempt.RemainingSeconds)
	require.Nil(t, attempt.Score)

	for _, question := range attempt.Questions {
		path := fmt.Sprintf("/api/v2/attempts/%d/answers/%d", attempt.ID, question.ID)
		status, body := a.do(t, http.MethodPut, path, studentID, "student", correctAnswer(question.Type))
		require.Equal(t, fiber.StatusOK, status, body.Message)
	}

	status, body := a.do(t, http.MethodGet, fmt.Sprintf("/api/v2/attempts/%d/time-remaining", attempt.ID), studentID, "student", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, string(body.Data), `"unlimited":false`)

	status, body = a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/attempts/%d/submit", attempt.ID), studentID, "student", nil)
	require.Equal(t, fiber.StatusOK, status, body.Message)
	submitted := decodeAttempt(t, body)
	require.Equal(t, string(models.AttemptStateAutoGraded), submitted.State)
	require.True(t, submitted.Released)
	require.NotNil(t, submitted.Score)
	require.InDelta(t, 3.0, *submitted.Score, 0.001)

	// Answers after submission are refused.
	path := fmt.Sprintf("/api/v2/attempts/%d/answers/%d", attempt.ID, attempt.Questions[0].ID)
	status, _ = a.do(t, http.MethodPut, path, studentID, "student", correctAnswer(attempt.Questions[0].Type))
	require.Equal(t, fiber.StatusConflict, status)

	// attempts_allowed is 1.
	status, body = a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/assessments/%d/attempts", assessmentID), studentID, "student", nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Contains(t, body.Message, "limit")

	status, body = a.do(t, http.MethodGet, fmt.Sprintf("/api/v2/courses/%d/gradebook/me", courseID), studentID, "student", nil)
	require.Equal(t, fiber.StatusOK, status, body.Message)
	require.Contains(t, string(body.Data), `"overall_percent":100`)
}

func TestAttemptAnswerValidation(t *testing.T) {
	a := setupApp(t)
	attempt := startAttempt(t, a, publishedQuiz(t, a, 0))

	var choiceID uint
	for _, question := range attempt.Questions {
		if question.Type == string(models.QuestionTypeMultipleChoice) {
			choiceID = question.ID
		}
	}

	path := fmt.Sprintf("/api/v2/attempts/%d/answers/%d", attempt.ID, choiceID)
	status, _ := a.do(t, http.MethodPut, path, studentID, "student", map[string]interface{}{"kind": "bool", "value": "True"})
	require.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, _ = a.do(t, http.MethodPut, path, studentID, "student", map[string]interface{}{"kind": "choice", "choice": 9})
	require.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, _ = a.do(t, http.MethodPut, fmt.Sprintf("/api/v2/attempts/%d/answers/9999", attempt.ID), studentID, "student", map[string]interface{}{"kind": "choice", "choice": 0})
	require.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, _ = a.do(t, http.MethodPut, path, studentID, "student", map[string]interface{}{"kind": "emoji"})
	require.Equal(t, fiber.StatusBadRequest, status)

	// Another user cannot see or write the attempt.
	status, _ = a.do(t, http.MethodPut, path, 2, "student", map[string]interface{}{"kind": "choice", "choice": 1})
	require.Equal(t, fiber.StatusNotFound, status)
}

func TestAttemptStartRejectsDraft(t *testing.T) {
	a := setupApp(t)

	status, body := a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/courses/%d/assessments", courseID), teacherID, "teacher", quizPayload(0))
	require.Equal(t, fiber.StatusCreated, status)
	var created struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))

	status, body = a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/assessments/%d/attempts", created.ID), studentID, "student", nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Contains(t, body.Message, "not published")

	var count int64
	require.NoError(t, a.db.Model(&models.Attempt{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestManualReviewReleaseOverHTTP(t *testing.T) {
	a := setupApp(t)

	payload := quizPayload(0)
	payload["questions"] = []map[string]interface{}{
		{"type": "true_false", "prompt": "Water boils at 100C at sea level", "points": 1, "correct": "True"},
		{"type": "short_answer", "prompt": "Explain evaporation", "points": 4, "reference_answer": "Liquid turns to gas"},
	}
	status, body := a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/courses/%d/assessments", courseID), teacherID, "teacher", payload)
	require.Equal(t, fiber.StatusCreated, status)
	var created struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	status, _ = a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/assessments/%d/publish", created.ID), teacherID, "teacher", nil)
	require.Equal(t, fiber.StatusOK, status)

	attempt := startAttempt(t, a, created.ID)
	for _, question := range attempt.Questions {
		path := fmt.Sprintf("/api/v2/attempts/%d/answers/%d", attempt.ID, question.ID)
		status, _ := a.do(t, http.MethodPut, path, studentID, "student", correctAnswer(question.Type))
		require.Equal(t, fiber.StatusOK, status)
	}
	status, body = a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/attempts/%d/submit", attempt.ID), studentID, "student", nil)
	require.Equal(t, fiber.StatusOK, status)
	submitted := decodeAttempt(t, body)
	require.Equal(t, string(models.AttemptStatePendingManualReview), submitted.State)
	require.Nil(t, submitted.Score)

	status, body = a.do(t, http.MethodGet, fmt.Sprintf("/api/v2/courses/%d/grading/pending", courseID), teacherID, "teacher", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, string(body.Meta), `"total_items":1`)

	release := fmt.Sprintf("/api/v2/attempts/%d/release", attempt.ID)
	status, _ = a.do(t, http.MethodPost, release, studentID, "student", map[string]interface{}{"score": 5})
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = a.do(t, http.MethodPost, release, teacherID, "teacher", map[string]interface{}{"score": 9})
	require.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, body = a.do(t, http.MethodPost, release, teacherID, "teacher", map[string]interface{}{"score": 4, "feedback": "Good <b>work</b>"})
	require.Equal(t, fiber.StatusOK, status, body.Message)
	released := decodeAttempt(t, body)
	require.Equal(t, string(models.AttemptStateReleased), released.State)
	require.InDelta(t, 4.0, *released.Score, 0.001)

	status, body = a.do(t, http.MethodGet, fmt.Sprintf("/api/v2/attempts/%d", attempt.ID), studentID, "student", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.True(t, decodeAttempt(t, body).Released)

	status, body = a.do(t, http.MethodGet, fmt.Sprintf("/api/v2/courses/%d/activity", courseID), teacherID, "teacher", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, string(body.Data), "grade")
}

func TestCountdownStreamsUntilSubmit(t *testing.T) {
	a := setupApp(t)
	attempt := startAttempt(t, a, publishedQuiz(t, a, 30))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = a.app.Listener(ln) }()
	t.Cleanup(func() { _ = a.app.Shutdown() })

	url := fmt.Sprintf("ws://%s/api/v2/attempts/%d/countdown?user_id=%d&role=student", ln.Addr().String(), attempt.ID, studentID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame struct {
		AttemptID        uint   `json:"attempt_id"`
		State            string `json:"state"`
		RemainingSeconds int64  `json:"remaining_seconds"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, attempt.ID, frame.AttemptID)
	require.Equal(t, string(models.AttemptStateInProgress), frame.State)
	require.Greater(t, frame.RemainingSeconds, int64(29*60))

	status, _ := a.do(t, http.MethodPost, fmt.Sprintf("/api/v2/attempts/%d/submit", attempt.ID), studentID, "student", nil)
	require.Equal(t, fiber.StatusOK, status)

	require.Eventually(t, func() bool {
		if err := conn.ReadJSON(&frame); err != nil {
			return false
		}
		return frame.State != string(models.AttemptStateInProgress)
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, string(models.AttemptStateAutoGraded), frame.State)
}
