// Package rendezvous matches blocking Agent hook waits with human responses
// that may arrive minutes later from any surface. A wait suspends until a
// matching response is delivered, the timeout elapses, or the wait is
// cancelled. Responses that arrive before their waiter are parked per session
// and returned immediately by the next matching wait.
package rendezvous

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
)

// latestKey is the park slot used when a response arrives without a request
// ID and no waiter is pending.
const latestKey = "_latest"

// Outcome describes how a wait ended.
type Outcome int

const (
	// OutcomeDelivered: a response was matched to the waiter.
	OutcomeDelivered Outcome = iota
	// OutcomeTimeout: the timeout elapsed with no response.
	OutcomeTimeout
	// OutcomeCancelled: the wait was cancelled (shutdown, session removal,
	// or superseded by a newer wait on the same request).
	OutcomeCancelled
)

type waitResult struct {
	response  string
	cancelled bool
}

type waiter struct {
	sessionID string
	requestID string
	ch        chan waitResult // buffered 1; closed never, sent at most once
	seq       uint64
}

// Queue is the rendezvous structure. All state is in memory; the permission
// audit trail is persisted elsewhere.
type Queue struct {
	mu      sync.Mutex
	seq     uint64
	waiters map[string][]*waiter          // session_id -> waiters, FIFO by seq
	parked  map[string]map[string]string  // session_id -> request_id -> response
	logger  *logger.Logger
}

// New creates an empty rendezvous queue.
func New(log *logger.Logger) *Queue {
	return &Queue{
		waiters: make(map[string][]*waiter),
		parked:  make(map[string]map[string]string),
		logger:  log.WithFields(zap.String("component", "rendezvous")),
	}
}

// Wait suspends until a response for (sessionID, requestID) is delivered, the
// timeout elapses, or the context is cancelled. A parked response is returned
// immediately. A timeout of zero returns straight away unless a parked
// response exists.
func (q *Queue) Wait(ctx context.Context, sessionID, requestID string, timeout time.Duration) (string, Outcome) {
	q.mu.Lock()

	// Parked response from an earlier delivery wins immediately.
	if resp, ok := q.takeParkedLocked(sessionID, requestID); ok {
		q.mu.Unlock()
		return resp, OutcomeDelivered
	}

	if timeout <= 0 {
		q.mu.Unlock()
		return "", OutcomeTimeout
	}

	// A second waiter on the same (session, request) supersedes the first;
	// the superseded waiter observes a cancellation.
	if prev := q.findWaiterLocked(sessionID, requestID); prev != nil {
		q.removeWaiterLocked(prev)
		prev.ch <- waitResult{cancelled: true}
	}

	q.seq++
	w := &waiter{
		sessionID: sessionID,
		requestID: requestID,
		ch:        make(chan waitResult, 1),
		seq:       q.seq,
	}
	q.waiters[sessionID] = append(q.waiters[sessionID], w)
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		if res.cancelled {
			return "", OutcomeCancelled
		}
		return res.response, OutcomeDelivered
	case <-timer.C:
		q.abandon(w)
		// Delivery may have raced the timeout; prefer the response.
		select {
		case res := <-w.ch:
			if !res.cancelled {
				return res.response, OutcomeDelivered
			}
			return "", OutcomeCancelled
		default:
			return "", OutcomeTimeout
		}
	case <-ctx.Done():
		q.abandon(w)
		select {
		case res := <-w.ch:
			if !res.cancelled {
				return res.response, OutcomeDelivered
			}
		default:
		}
		return "", OutcomeCancelled
	}
}

// Deliver completes a pending wait for the session. When requestID is given
// it must match; when empty the oldest waiter wins. With no pending waiter
// the response is parked for the next matching wait. Deliver never fails.
func (q *Queue) Deliver(sessionID, requestID, response string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var target *waiter
	if requestID != "" {
		target = q.findWaiterLocked(sessionID, requestID)
	} else {
		target = q.oldestWaiterLocked(sessionID)
	}

	if target != nil {
		q.removeWaiterLocked(target)
		target.ch <- waitResult{response: response}
		q.logger.Debug("Delivered response",
			zap.String("session_id", sessionID),
			zap.String("request_id", target.requestID))
		return
	}

	key := requestID
	if key == "" {
		key = latestKey
	}
	if q.parked[sessionID] == nil {
		q.parked[sessionID] = make(map[string]string)
	}
	q.parked[sessionID][key] = response
	q.logger.Debug("Parked response",
		zap.String("session_id", sessionID),
		zap.String("request_id", key))
}

// CancelAll completes every pending wait for a session with a cancellation
// signal (distinct from timeout).
func (q *Queue) CancelAll(sessionID string) int {
	q.mu.Lock()
	ws := q.waiters[sessionID]
	delete(q.waiters, sessionID)
	q.mu.Unlock()

	for _, w := range ws {
		w.ch <- waitResult{cancelled: true}
	}
	if len(ws) > 0 {
		q.logger.Debug("Cancelled waits",
			zap.String("session_id", sessionID),
			zap.Int("count", len(ws)))
	}
	return len(ws)
}

// ClearSession drops parked responses and cancels waits for a removed
// session so the park map stays bounded.
func (q *Queue) ClearSession(sessionID string) {
	q.mu.Lock()
	delete(q.parked, sessionID)
	q.mu.Unlock()
	q.CancelAll(sessionID)
}

// Shutdown cancels every pending wait across all sessions so long-poll
// handlers return before the HTTP server drains.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	var all []*waiter
	for sessionID, ws := range q.waiters {
		all = append(all, ws...)
		delete(q.waiters, sessionID)
	}
	q.mu.Unlock()

	for _, w := range all {
		w.ch <- waitResult{cancelled: true}
	}
	if len(all) > 0 {
		q.logger.Info("Cancelled pending waits", zap.Int("count", len(all)))
	}
}

// PendingCount reports the number of suspended waits for a session.
func (q *Queue) PendingCount(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters[sessionID])
}

// TakeParked removes and returns a parked response without suspending.
func (q *Queue) TakeParked(sessionID, requestID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeParkedLocked(sessionID, requestID)
}

func (q *Queue) takeParkedLocked(sessionID, requestID string) (string, bool) {
	slots := q.parked[sessionID]
	if slots == nil {
		return "", false
	}
	for _, key := range []string{requestID, latestKey} {
		if key == "" {
			continue
		}
		if resp, ok := slots[key]; ok {
			delete(slots, key)
			if len(slots) == 0 {
				delete(q.parked, sessionID)
			}
			return resp, true
		}
	}
	return "", false
}

func (q *Queue) findWaiterLocked(sessionID, requestID string) *waiter {
	for _, w := range q.waiters[sessionID] {
		if w.requestID == requestID {
			return w
		}
	}
	return nil
}

// oldestWaiterLocked returns the waiter with the smallest sequence number.
func (q *Queue) oldestWaiterLocked(sessionID string) *waiter {
	var oldest *waiter
	for _, w := range q.waiters[sessionID] {
		if oldest == nil || w.seq < oldest.seq {
			oldest = w
		}
	}
	return oldest
}

func (q *Queue) removeWaiterLocked(target *waiter) {
	ws := q.waiters[target.sessionID]
	for i, w := range ws {
		if w == target {
			q.waiters[target.sessionID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(q.waiters[target.sessionID]) == 0 {
		delete(q.waiters, target.sessionID)
	}
}

// abandon removes a waiter after timeout or context cancellation.
func (q *Queue) abandon(w *waiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeWaiterLocked(w)
}
