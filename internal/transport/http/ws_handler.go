package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"experiment-test-service/internal/app"
	"experiment-test-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.AttemptService
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

var errNoAttempt = fmt.Errorf("%w: begin or resume an attempt first", domain.ErrInvalidEvent)

// ServeWS upgrades a participant connection and drives one attempt through it.
// Closing the connection leaves the attempt in progress so it can be resumed.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	// the only goroutine writing to conn
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("ws write error", "user", userID, "err", err)
				// keep draining so the reader never blocks on a dead connection
				for range send {
				}
				return
			}
		}
	}()

	conv := &conversation{service: h.service, userID: userID}
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		for _, msg := range conv.handle(r.Context(), inbound) {
			send <- msg
		}
	}

	close(send)
	<-writerDone
	if conv.attemptID != "" {
		h.logger.Debug("participant disconnected", "user", userID, "attempt", conv.attemptID)
	}
}

// conversation is the per-connection state: the attempt the connection drives.
type conversation struct {
	service   *app.AttemptService
	userID    string
	attemptID string
}

func (c *conversation) handle(ctx context.Context, in inboundMessage) []outboundMessage[any] {
	msgs, err := c.dispatch(ctx, in)
	if err != nil {
		return []outboundMessage[any]{errorMessage(err)}
	}
	return msgs
}

func (c *conversation) dispatch(ctx context.Context, in inboundMessage) ([]outboundMessage[any], error) {
	switch in.Type {
	case "begin", "resume":
		var (
			view app.AttemptView
			err  error
		)
		if in.Type == "begin" {
			view, err = c.service.Begin(ctx, c.userID)
		} else {
			view, err = c.service.Resume(ctx, c.userID)
		}
		if err != nil {
			return nil, err
		}
		c.attemptID = view.Attempt.ID
		return one("assigned", assigned(view)), nil
	}

	if c.attemptID == "" {
		return nil, errNoAttempt
	}

	switch in.Type {
	case "next", "previous", "skip", "abandon":
		var p movePayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		var (
			out app.Outcome
			err error
		)
		ts := millis(p.Timestamp)
		switch in.Type {
		case "next":
			out, err = c.service.Next(ctx, c.attemptID, ts)
		case "previous":
			out, err = c.service.Previous(ctx, c.attemptID, ts)
		case "skip":
			out, err = c.service.Skip(ctx, c.attemptID, ts)
		case "abandon":
			out, err = c.service.Abandon(ctx, c.attemptID, ts)
		}
		if err != nil {
			return nil, err
		}
		payload := positionPayload{Seq: out.Seq, Status: out.Status, Position: out.Position, Question: out.Question, Skipped: out.Skipped}
		if out.Status.Terminal() {
			return one("completed", payload), nil
		}
		return one("position", payload), nil

	case "enter", "exit":
		var p questionPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		var (
			out app.Outcome
			err error
		)
		if in.Type == "enter" {
			out, err = c.service.EnterQuestion(ctx, c.attemptID, p.QuestionID, millis(p.Timestamp))
		} else {
			out, err = c.service.ExitQuestion(ctx, c.attemptID, p.QuestionID, millis(p.Timestamp))
		}
		if err != nil {
			return nil, err
		}
		return one("ack", ackPayload{Type: in.Type, Seq: out.Seq}), nil

	case "option":
		var p optionPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		out, err := c.service.OptionEvent(ctx, c.attemptID, p.QuestionID, p.OptionID, domain.OptionEventKind(p.Kind), millis(p.Timestamp))
		if err != nil {
			return nil, err
		}
		return one("ack", ackPayload{Type: in.Type, Seq: out.Seq}), nil

	case "form":
		var p formPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		if err := c.service.SubmitForm(ctx, c.attemptID, domain.FormType(p.FormType), p.answers()); err != nil {
			return nil, err
		}
		return one("ack", ackPayload{Type: in.Type}), nil
	}
	return nil, fmt.Errorf("%w: unsupported message type %s", domain.ErrInvalidEvent, strconv.Quote(in.Type))
}

func one(typ string, payload any) []outboundMessage[any] {
	return []outboundMessage[any]{{Type: typ, Payload: payload}}
}
