package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"experiment-test-service/internal/app"
	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/navigator"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Timestamps are Unix milliseconds as measured by the client.
type movePayload struct {
	Timestamp int64 `json:"timestamp" validate:"gt=0"`
}

type questionPayload struct {
	QuestionID string `json:"questionId" validate:"required"`
	Timestamp  int64  `json:"timestamp" validate:"gt=0"`
}

type optionPayload struct {
	QuestionID string `json:"questionId" validate:"required"`
	OptionID   string `json:"optionId" validate:"required"`
	Kind       string `json:"kind" validate:"required,oneof=hover change select deselect"`
	Timestamp  int64  `json:"timestamp" validate:"gt=0"`
}

type formPayload struct {
	FormType string              `json:"formType" validate:"required,oneof=pre post"`
	Answers  []formAnswerPayload `json:"answers" validate:"dive"`
}

type formAnswerPayload struct {
	QuestionID string  `json:"questionId" validate:"required"`
	OptionID   *string `json:"optionId,omitempty"`
	Value      *int    `json:"value,omitempty"`
	Answer     *string `json:"answer,omitempty"`
}

func (p formPayload) answers() []domain.FormAnswer {
	out := make([]domain.FormAnswer, 0, len(p.Answers))
	for _, a := range p.Answers {
		out = append(out, domain.FormAnswer{QuestionID: a.QuestionID, OptionID: a.OptionID, Value: a.Value, Answer: a.Answer})
	}
	return out
}

// decode unmarshals a payload and validates it. An absent payload decodes as the zero value.
func decode(raw json.RawMessage, dst any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("%w: malformed payload", domain.ErrInvalidEvent)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidEvent, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func millis(ts int64) time.Time {
	return time.UnixMilli(ts).UTC()
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type assignedPayload struct {
	AttemptID     string                     `json:"attemptId"`
	ConfigVersion int                        `json:"configVersion"`
	Group         string                     `json:"group"`
	Greeting      string                     `json:"greeting,omitempty"`
	Status        domain.AttemptStatus       `json:"status"`
	Position      domain.Position            `json:"position"`
	Protocol      navigator.AssignedProtocol `json:"protocol"`
	Question      navigator.AssignedQuestion `json:"question"`
}

func assigned(v app.AttemptView) assignedPayload {
	return assignedPayload{
		AttemptID:     v.Attempt.ID,
		ConfigVersion: v.Attempt.ConfigVersion,
		Group:         v.GroupLabel,
		Greeting:      v.Greeting,
		Status:        v.Attempt.Status,
		Position:      v.Attempt.Position,
		Protocol:      v.Protocol,
		Question:      v.Current,
	}
}

type positionPayload struct {
	Seq      int64                       `json:"seq"`
	Status   domain.AttemptStatus        `json:"status"`
	Position domain.Position             `json:"position"`
	Question *navigator.AssignedQuestion `json:"question,omitempty"`
	Skipped  string                      `json:"skipped,omitempty"`
}

type ackPayload struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
}

// errorCode maps failures to stable client-facing codes and HTTP statuses.
func errorCode(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrNavigation):
		return "navigation", http.StatusConflict
	case errors.Is(err, domain.ErrAttemptInProgress):
		return "attempt_in_progress", http.StatusConflict
	case errors.Is(err, domain.ErrAttemptFinished):
		return "attempt_finished", http.StatusConflict
	case errors.Is(err, domain.ErrFormSubmitted):
		return "form_submitted", http.StatusConflict
	case errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrGroupNotFound),
		errors.Is(err, domain.ErrFormNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrOptionNotFound),
		errors.Is(err, domain.ErrVisitNotOpen),
		errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrInvalidFormAnswer):
		return "invalid", http.StatusBadRequest
	}
	return "internal", http.StatusInternalServerError
}

func errorMessage(err error) outboundMessage[any] {
	code, _ := errorCode(err)
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: code, Message: err.Error()}}
}
