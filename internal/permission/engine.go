package permission

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
)

// Response words a human surface can deliver for a permission ask. Scoped
// variants also materialize a reusable rule. "always_allow" is accepted as a
// synonym for "approve_all"; both mean a global allow rule.
const (
	RespondApprove        = "approve"
	RespondDeny           = "deny"
	RespondApproveSession = "approve_session"
	RespondDenySession    = "deny_session"
	RespondApproveAll     = "approve_all"
	RespondAlwaysAllow    = "always_allow"
	RespondDenyAll        = "deny_all"
)

// Engine evaluates allow/deny rules and applies decisions to pending asks.
type Engine struct {
	store  *Store
	waits  *rendezvous.Queue
	notify *notifier.Notifier
	logger *logger.Logger
}

// NewEngine creates the permission engine.
func NewEngine(store *Store, waits *rendezvous.Queue, notify *notifier.Notifier, log *logger.Logger) *Engine {
	return &Engine{
		store:  store,
		waits:  waits,
		notify: notify,
		logger: log.WithFields(zap.String("component", "permission")),
	}
}

// Evaluate resolves a tool invocation against the stored rules. Resolution
// order: session deny, session allow, global deny, global allow, ask. Within
// one bucket the most recently added rule wins; since buckets are checked in
// precedence order that only matters for identical (scope, type) pairs.
func (e *Engine) Evaluate(ctx context.Context, sessionID, toolName string, toolInput json.RawMessage) (Decision, error) {
	rules, err := e.store.ListRules(ctx, sessionID)
	if err != nil {
		return DecisionAsk, err
	}
	return resolve(rules, sessionID, toolName, toolInput), nil
}

// resolve is the pure resolution function over an in-memory rule set.
func resolve(rules []*Rule, sessionID, toolName string, toolInput json.RawMessage) Decision {
	type bucket struct {
		scope    Scope
		ruleType RuleType
	}
	order := []bucket{
		{ScopeSession, RuleDeny},
		{ScopeSession, RuleAllow},
		{ScopeGlobal, RuleDeny},
		{ScopeGlobal, RuleAllow},
	}

	for _, b := range order {
		// Scan newest-first so the most recently added rule wins ties.
		for i := len(rules) - 1; i >= 0; i-- {
			r := rules[i]
			if r.Scope != b.scope || r.RuleType != b.ruleType {
				continue
			}
			if b.scope == ScopeSession && r.SessionID != sessionID {
				continue
			}
			if !RuleMatches(r, toolName, toolInput) {
				continue
			}
			if b.ruleType == RuleDeny {
				return DecisionDeny
			}
			return DecisionAllow
		}
	}
	return DecisionAsk
}

// Resolve applies a human decision to a pending request (socket
// approve/deny, bot callback, HTTP resolve). It records the audit decision,
// materializes scoped rules, wakes the waiting hook, and emits
// permission_resolved.
func (e *Engine) Resolve(ctx context.Context, requestID, response, decidedBy string) (*Request, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	e.recordResponse(ctx, req, response, decidedBy)
	e.waits.Deliver(req.SessionID, req.ID, response)

	e.notify.Emit(ctx, req.SessionID, events.PermissionResolved, map[string]interface{}{
		"request_id": req.ID,
		"decision":   auditDecision(response),
		"decided_by": decidedBy,
		"tool_name":  req.ToolName,
	})
	return req, nil
}

// ResolveTimeout closes the audit trail for an ask nobody answered in time:
// the request is denied with decided_by "auto". A request that was decided
// while the timeout fired keeps its decision and nothing is emitted.
func (e *Engine) ResolveTimeout(ctx context.Context, requestID string) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return
	}
	if !e.recordDecision(ctx, req, RequestDenied, "auto") {
		return
	}

	e.logger.Info("Permission request timed out",
		zap.String("request_id", req.ID),
		zap.String("session_id", req.SessionID))
	e.notify.Emit(ctx, req.SessionID, events.PermissionResolved, map[string]interface{}{
		"request_id": req.ID,
		"decision":   RequestDenied,
		"decided_by": "auto",
		"tool_name":  req.ToolName,
	})
}

// recordResponse maps a response word onto the audit decision, persists it,
// and materializes a rule when the response carries scope.
func (e *Engine) recordResponse(ctx context.Context, req *Request, response, decidedBy string) Decision {
	if decidedBy == "" {
		decidedBy = "web"
	}
	audit := auditDecision(response)
	e.recordDecision(ctx, req, audit, decidedBy)

	if rule, ok := ruleForResponse(req, response); ok {
		if err := e.store.AddRule(ctx, rule); err != nil {
			e.logger.WithError(err).Warn("Failed to materialize permission rule",
				zap.String("tool_name", rule.ToolName),
				zap.String("pattern", rule.Pattern))
		}
	}

	if isApproval(response) {
		return DecisionAllow
	}
	return DecisionDeny
}

// recordDecision persists a decision and reports whether this call won the
// audit row. A false return means the request was already decided (or the
// write failed); the existing decision stands.
func (e *Engine) recordDecision(ctx context.Context, req *Request, decision, decidedBy string) bool {
	decided, err := e.store.ResolveRequest(ctx, req.ID, decision, decidedBy)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to record permission decision",
			zap.String("request_id", req.ID))
		return false
	}
	return decided
}

func isApproval(response string) bool {
	switch response {
	case RespondApprove, RespondApproveSession, RespondApproveAll, RespondAlwaysAllow:
		return true
	}
	return false
}

// auditDecision maps a response word to the audit-table decision value.
func auditDecision(response string) string {
	switch response {
	case RespondApprove:
		return RequestApproved
	case RespondApproveSession:
		return RequestApprovedSession
	case RespondApproveAll, RespondAlwaysAllow:
		return RequestApprovedGlobal
	case RespondDenySession:
		return RequestDeniedSession
	case RespondDenyAll:
		return RequestDeniedGlobal
	default:
		return RequestDenied
	}
}

// ruleForResponse materializes the reusable rule implied by a scoped
// response word. Plain approve/deny create no rule.
func ruleForResponse(req *Request, response string) (*Rule, bool) {
	pattern := PatternFor(req.ToolName, req.ToolInput)

	switch response {
	case RespondApproveSession:
		return &Rule{ToolName: req.ToolName, Pattern: pattern, RuleType: RuleAllow,
			Scope: ScopeSession, SessionID: req.SessionID}, true
	case RespondDenySession:
		return &Rule{ToolName: req.ToolName, Pattern: pattern, RuleType: RuleDeny,
			Scope: ScopeSession, SessionID: req.SessionID}, true
	case RespondApproveAll, RespondAlwaysAllow:
		return &Rule{ToolName: req.ToolName, Pattern: pattern, RuleType: RuleAllow,
			Scope: ScopeGlobal}, true
	case RespondDenyAll:
		return &Rule{ToolName: req.ToolName, Pattern: pattern, RuleType: RuleDeny,
			Scope: ScopeGlobal}, true
	}
	return nil, false
}

// PatternFor derives the rule pattern for a tool invocation: the command
// verb plus a wildcard for Execute ("npm *"), a wildcard for everything else.
func PatternFor(toolName string, toolInput json.RawMessage) string {
	target, ok := MatchTarget(toolName, toolInput)
	if !ok || toolName != "Execute" || target == "" {
		return "*"
	}
	fields := strings.Fields(target)
	if len(fields) == 0 {
		return "*"
	}
	return fields[0] + " *"
}
