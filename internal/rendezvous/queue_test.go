package rendezvous

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return New(log)
}

func TestWaitReceivesDeliveredResponse(t *testing.T) {
	q := newTestQueue(t)

	done := make(chan struct{})
	var resp string
	var outcome Outcome
	go func() {
		defer close(done)
		resp, outcome = q.Wait(context.Background(), "s1", "r1", 2*time.Second)
	}()

	// Let the waiter register before delivering.
	require.Eventually(t, func() bool { return q.PendingCount("s1") == 1 },
		time.Second, 5*time.Millisecond)

	q.Deliver("s1", "r1", "approve")
	<-done

	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, "approve", resp)
	assert.Equal(t, 0, q.PendingCount("s1"))
}

func TestWaitTimesOut(t *testing.T) {
	q := newTestQueue(t)

	start := time.Now()
	resp, outcome := q.Wait(context.Background(), "s1", "r1", 50*time.Millisecond)

	assert.Equal(t, OutcomeTimeout, outcome)
	assert.Empty(t, resp)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, q.PendingCount("s1"))
}

func TestZeroTimeoutReturnsImmediately(t *testing.T) {
	q := newTestQueue(t)

	_, outcome := q.Wait(context.Background(), "s1", "r1", 0)
	assert.Equal(t, OutcomeTimeout, outcome)

	// With a parked response, a zero timeout still succeeds.
	q.Deliver("s1", "r1", "deny")
	resp, outcome := q.Wait(context.Background(), "s1", "r1", 0)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, "deny", resp)
}

func TestEarlyDeliveryIsParked(t *testing.T) {
	q := newTestQueue(t)

	q.Deliver("s1", "r1", "approve")

	// The matching wait returns without suspending.
	start := time.Now()
	resp, outcome := q.Wait(context.Background(), "s1", "r1", 5*time.Second)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, "approve", resp)
	assert.Less(t, time.Since(start), time.Second)

	// The park slot is one-shot.
	_, ok := q.TakeParked("s1", "r1")
	assert.False(t, ok)
}

func TestDeliveryWithoutRequestIDParksUnderLatest(t *testing.T) {
	q := newTestQueue(t)

	q.Deliver("s1", "", "continue please")

	resp, outcome := q.Wait(context.Background(), "s1", "some-request", time.Second)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, "continue please", resp)
}

func TestDeliveryWithoutRequestIDGoesToOldestWaiter(t *testing.T) {
	q := newTestQueue(t)

	type result struct {
		id      string
		resp    string
		outcome Outcome
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, outcome := q.Wait(context.Background(), "s1", "first", 2*time.Second)
		results <- result{"first", resp, outcome}
	}()
	require.Eventually(t, func() bool { return q.PendingCount("s1") == 1 },
		time.Second, 5*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, outcome := q.Wait(context.Background(), "s1", "second", 2*time.Second)
		results <- result{"second", resp, outcome}
	}()
	require.Eventually(t, func() bool { return q.PendingCount("s1") == 2 },
		time.Second, 5*time.Millisecond)

	q.Deliver("s1", "", "to-oldest")

	got := <-results
	assert.Equal(t, "first", got.id)
	assert.Equal(t, OutcomeDelivered, got.outcome)
	assert.Equal(t, "to-oldest", got.resp)

	q.CancelAll("s1")
	wg.Wait()
}

func TestSupersedingWaiterCancelsPrevious(t *testing.T) {
	q := newTestQueue(t)

	firstDone := make(chan Outcome, 1)
	go func() {
		_, outcome := q.Wait(context.Background(), "s1", "r1", 2*time.Second)
		firstDone <- outcome
	}()
	require.Eventually(t, func() bool { return q.PendingCount("s1") == 1 },
		time.Second, 5*time.Millisecond)

	secondDone := make(chan string, 1)
	go func() {
		resp, _ := q.Wait(context.Background(), "s1", "r1", 2*time.Second)
		secondDone <- resp
	}()

	select {
	case outcome := <-firstDone:
		assert.Equal(t, OutcomeCancelled, outcome)
	case <-time.After(time.Second):
		t.Fatal("superseded waiter did not observe cancellation")
	}

	q.Deliver("s1", "r1", "approve")
	select {
	case resp := <-secondDone:
		assert.Equal(t, "approve", resp)
	case <-time.After(time.Second):
		t.Fatal("second waiter did not receive delivery")
	}
}

func TestCancelAllIsDistinctFromTimeout(t *testing.T) {
	q := newTestQueue(t)

	done := make(chan Outcome, 1)
	go func() {
		_, outcome := q.Wait(context.Background(), "s1", "r1", 5*time.Second)
		done <- outcome
	}()
	require.Eventually(t, func() bool { return q.PendingCount("s1") == 1 },
		time.Second, 5*time.Millisecond)

	n := q.CancelAll("s1")
	assert.Equal(t, 1, n)

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeCancelled, outcome)
	case <-time.After(time.Second):
		t.Fatal("waiter did not observe cancellation")
	}
}

func TestLateDeliveryAfterTimeoutIsParked(t *testing.T) {
	q := newTestQueue(t)

	_, outcome := q.Wait(context.Background(), "s1", "r1", 10*time.Millisecond)
	require.Equal(t, OutcomeTimeout, outcome)

	q.Deliver("s1", "r1", "too-late")

	resp, ok := q.TakeParked("s1", "r1")
	assert.True(t, ok)
	assert.Equal(t, "too-late", resp)
}

func TestClearSessionDropsParkedResponses(t *testing.T) {
	q := newTestQueue(t)

	q.Deliver("s1", "r1", "stale")
	q.ClearSession("s1")

	_, ok := q.TakeParked("s1", "r1")
	assert.False(t, ok)
}

func TestIsolationAcrossSessions(t *testing.T) {
	q := newTestQueue(t)

	q.Deliver("s1", "r1", "for-s1")

	_, outcome := q.Wait(context.Background(), "s2", "r1", 0)
	assert.Equal(t, OutcomeTimeout, outcome)

	resp, outcome := q.Wait(context.Background(), "s1", "r1", 0)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, "for-s1", resp)
}
