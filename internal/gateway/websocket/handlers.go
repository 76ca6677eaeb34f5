package websocket

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
	"github.com/etwicaksono/droid-remote/internal/session/registry"
	"github.com/etwicaksono/droid-remote/internal/session/store"
	ws "github.com/etwicaksono/droid-remote/pkg/websocket"
)

// Handlers wires the socket actions onto the domain services.
type Handlers struct {
	registry *registry.Registry
	engine   *permission.Engine
	waits    *rendezvous.Queue
	notify   *notifier.Notifier
	logger   *logger.Logger
}

// NewHandlers creates the action handlers.
func NewHandlers(reg *registry.Registry, engine *permission.Engine, waits *rendezvous.Queue, notify *notifier.Notifier, log *logger.Logger) *Handlers {
	return &Handlers{
		registry: reg,
		engine:   engine,
		waits:    waits,
		notify:   notify,
		logger:   log.WithFields(zap.String("component", "ws_handlers")),
	}
}

// RegisterActions installs the handlers on the dispatcher.
func (h *Handlers) RegisterActions(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionHealthCheck, h.handleHealthCheck)
	d.RegisterFunc(ws.ActionRespond, h.handleRespond)
	d.RegisterFunc(ws.ActionApprove, h.handleDecision(true))
	d.RegisterFunc(ws.ActionDeny, h.handleDecision(false))
}

func (h *Handlers) handleHealthCheck(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// RespondRequest carries a free-text reply to a pending request.
type RespondRequest struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	Response  string `json:"response"`
}

func (h *Handlers) handleRespond(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req RespondRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.SessionID == "" || req.Response == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id and response are required", nil)
	}

	requestID := req.RequestID
	if requestID == "" {
		if pending := h.registry.PendingRequest(req.SessionID); pending != nil {
			requestID = pending.ID
		}
	}

	h.waits.Deliver(req.SessionID, requestID, req.Response)
	h.registry.ClearPendingRequest(req.SessionID)
	h.notify.Emit(ctx, req.SessionID, events.ResponseDelivered, map[string]interface{}{
		"request_id": requestID,
		"response":   req.Response,
	})

	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":    true,
		"request_id": requestID,
	})
}

// DecisionRequest carries an approve or deny for a permission ask. Scope ""
// decides once, "session" and "global" also materialize a rule.
type DecisionRequest struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

func (h *Handlers) handleDecision(approve bool) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req DecisionRequest
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		}
		if req.SessionID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required", nil)
		}

		requestID := req.RequestID
		if requestID == "" {
			if pending := h.registry.PendingRequest(req.SessionID); pending != nil {
				requestID = pending.ID
			}
		}
		if requestID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, "no pending request for session", nil)
		}

		response := decisionResponse(approve, req.Scope)
		if _, err := h.engine.Resolve(ctx, requestID, response, "web"); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Not a permission ask: deliver the word straight to the
				// waiting hook.
				h.waits.Deliver(req.SessionID, requestID, response)
			} else {
				return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
			}
		}
		h.registry.ClearPendingRequest(req.SessionID)

		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"success":    true,
			"request_id": requestID,
			"response":   response,
		})
	}
}

// decisionResponse maps a button press plus scope onto the response word.
func decisionResponse(approve bool, scope string) string {
	switch scope {
	case "session":
		if approve {
			return permission.RespondApproveSession
		}
		return permission.RespondDenySession
	case "global", "all":
		if approve {
			return permission.RespondApproveAll
		}
		return permission.RespondDenyAll
	default:
		if approve {
			return permission.RespondApprove
		}
		return permission.RespondDeny
	}
}
