package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurk-ai/zurk/pkg/types"
)

func TestQueueAndProcessDecision(t *testing.T) {
	h := NewHandler()

	req := h.Queue("ses-1", "Write", map[string]any{
		"file_path": "/tmp/a.txt",
		"content":   "hello\n",
	}, "toolu_01")

	require.NotNil(t, req)
	assert.Equal(t, "Write", req.ToolName)
	assert.Equal(t, "/tmp/a.txt", req.FilePath)
	require.NotNil(t, req.Diff)
	assert.Contains(t, req.Diff.Diff, "+hello")

	assert.Same(t, req, h.GetPending("ses-1"))

	done := make(chan struct{})
	go func() {
		approved, feedback := req.Wait(context.Background(), time.Second)
		assert.True(t, approved)
		assert.Equal(t, "looks good", feedback)
		close(done)
	}()

	require.True(t, h.ProcessDecision("ses-1", true, "looks good"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never unblocked")
	}

	// Decided request is gone.
	assert.Nil(t, h.GetPending("ses-1"))
}

func TestProcessDecisionNothingPending(t *testing.T) {
	h := NewHandler()
	assert.False(t, h.ProcessDecision("ses-missing", true, ""))
}

func TestProcessDecisionDeny(t *testing.T) {
	h := NewHandler()
	req := h.Queue("ses-1", "Bash", map[string]any{"command": "rm -rf build"}, "toolu_02")

	require.True(t, h.ProcessDecision("ses-1", false, "not on this branch"))

	approved, feedback := req.Wait(context.Background(), time.Second)
	assert.False(t, approved)
	assert.Equal(t, "not on this branch", feedback)
}

func TestClearPendingUnblocksWaiter(t *testing.T) {
	h := NewHandler()
	req := h.Queue("ses-1", "Edit", map[string]any{
		"file_path":  "/tmp/a.txt",
		"old_string": "x\n",
		"new_string": "y\n",
	}, "toolu_03")

	done := make(chan struct{})
	go func() {
		approved, feedback := req.Wait(context.Background(), 0)
		assert.False(t, approved)
		assert.Equal(t, ClearedFeedback, feedback)
		close(done)
	}()

	h.ClearPending("ses-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never unblocked after clear")
	}
	assert.Nil(t, h.GetPending("ses-1"))
}

func TestClearPendingNoPending(t *testing.T) {
	h := NewHandler()
	h.ClearPending("ses-unknown")
}

func TestWaitTimeout(t *testing.T) {
	h := NewHandler()
	req := h.Queue("ses-1", "Write", map[string]any{"file_path": "f", "content": "c"}, "toolu_04")

	approved, feedback := req.Wait(context.Background(), 10*time.Millisecond)
	assert.False(t, approved)
	assert.Equal(t, TimeoutFeedback, feedback)
	h.Release(req)

	// A late decision must not pass once the timeout already denied.
	assert.Nil(t, h.GetPending("ses-1"))
	assert.False(t, h.ProcessDecision("ses-1", true, "too late"))
	approved, feedback = req.Decision()
	assert.False(t, approved)
	assert.Equal(t, TimeoutFeedback, feedback)
}

func TestProcessDecisionAfterTimeoutRejected(t *testing.T) {
	h := NewHandler()
	req := h.Queue("ses-1", "Write", map[string]any{"file_path": "f", "content": "c"}, "toolu_12")

	_, _ = req.Wait(context.Background(), 10*time.Millisecond)

	// Even while the request still sits in the queue, a resolved
	// request cannot absorb a decision; it is dropped instead.
	assert.False(t, h.ProcessDecision("ses-1", true, "too late"))
	assert.Nil(t, h.GetPending("ses-1"))

	approved, feedback := req.Decision()
	assert.False(t, approved)
	assert.Equal(t, TimeoutFeedback, feedback)
}

func TestWaitContextCancelled(t *testing.T) {
	h := NewHandler()
	req := h.Queue("ses-1", "Write", map[string]any{"file_path": "f", "content": "c"}, "toolu_05")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	approved, feedback := req.Wait(ctx, 0)
	assert.False(t, approved)
	assert.Equal(t, ClearedFeedback, feedback)
	h.Release(req)
	assert.False(t, h.ProcessDecision("ses-1", true, ""))
}

func TestReleaseOnlyRemovesOwnRequest(t *testing.T) {
	h := NewHandler()
	first := h.Queue("ses-1", "Write", map[string]any{"file_path": "a", "content": "1"}, "toolu_13")
	second := h.Queue("ses-1", "Write", map[string]any{"file_path": "b", "content": "2"}, "toolu_14")

	// Releasing the replaced request leaves the live one queued.
	h.Release(first)
	assert.Same(t, second, h.GetPending("ses-1"))

	h.Release(second)
	assert.Nil(t, h.GetPending("ses-1"))
}

func TestResolveOnlyOnce(t *testing.T) {
	h := NewHandler()
	req := h.Queue("ses-1", "Write", map[string]any{"file_path": "f", "content": "c"}, "toolu_06")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		approved := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			req.resolve(approved, "race")
		}()
	}
	wg.Wait()

	// One of the racers won; the channel closed exactly once without
	// panicking and the outcome is stable.
	<-req.done
	first, _ := req.Decision()
	second, _ := req.Decision()
	assert.Equal(t, first, second)
}

func TestQueueOverwritesPrior(t *testing.T) {
	h := NewHandler()
	first := h.Queue("ses-1", "Write", map[string]any{"file_path": "a", "content": "1"}, "toolu_07")
	second := h.Queue("ses-1", "Write", map[string]any{"file_path": "b", "content": "2"}, "toolu_08")

	assert.NotSame(t, first, second)
	assert.Same(t, second, h.GetPending("ses-1"))

	// The decision lands on the replacement.
	require.True(t, h.ProcessDecision("ses-1", true, ""))
	approved, _ := second.Wait(context.Background(), time.Second)
	assert.True(t, approved)
}

func TestSessionsAreIndependent(t *testing.T) {
	h := NewHandler()
	a := h.Queue("ses-a", "Write", map[string]any{"file_path": "a", "content": "1"}, "toolu_09")
	b := h.Queue("ses-b", "Write", map[string]any{"file_path": "b", "content": "2"}, "toolu_10")

	require.True(t, h.ProcessDecision("ses-a", true, ""))

	approved, _ := a.Wait(context.Background(), time.Second)
	assert.True(t, approved)
	assert.Same(t, b, h.GetPending("ses-b"))
}

func TestToPendingApproval(t *testing.T) {
	h := NewHandler()
	req := h.Queue("ses-1", "Bash", map[string]any{"command": "rm -rf /tmp/x"}, "toolu_11")

	pa := req.ToPendingApproval()
	require.NotNil(t, pa)
	assert.Equal(t, "Bash", pa.ToolName)
	assert.Equal(t, "toolu_11", pa.ToolUseID)
	assert.Equal(t, types.RiskHigh, pa.Risk)
	require.NotNil(t, pa.Diff)
	assert.Equal(t, "rm -rf /tmp/x", pa.Diff.Diff)
	assert.False(t, pa.RequestedAt.IsZero())
}
