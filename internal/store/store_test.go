package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurk-ai/zurk/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestProject(t *testing.T, s *Store) *types.Project {
	t.Helper()
	p := &types.Project{
		Name:                "demo",
		Path:                t.TempDir(),
		DefaultAllowedTools: []string{"Read", "Write"},
		PermissionMode:      types.PermissionDefault,
	}
	require.NoError(t, s.CreateProject(p))
	return p
}

func newTestSession(t *testing.T, s *Store, projectID string) *types.Session {
	t.Helper()
	sess := &types.Session{ProjectID: projectID, Name: "run tests"}
	require.NoError(t, s.CreateSession(sess))
	return sess
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)

	p := &types.Project{
		Name:                "webapp",
		Path:                "/srv/webapp",
		Description:         "frontend app",
		DefaultAllowedTools: []string{"Read"},
		AutoApprovePatterns: []string{"make test*"},
		DevCommand:          "npm run dev",
		DevPort:             5173,
	}
	require.NoError(t, s.CreateProject(p))
	require.NotEmpty(t, p.ID)

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "webapp", got.Name)
	assert.Equal(t, "/srv/webapp", got.Path)
	assert.Equal(t, []string{"Read"}, got.DefaultAllowedTools)
	assert.Equal(t, []string{"make test*"}, got.AutoApprovePatterns)
	assert.Equal(t, types.PermissionDefault, got.PermissionMode)
	assert.Equal(t, 5173, got.DevPort)

	byPath, err := s.GetProjectByPath("/srv/webapp")
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, p.ID, byPath.ID)

	missing, err := s.GetProjectByPath("/nowhere")
	require.NoError(t, err)
	assert.Nil(t, missing)

	newName := "webapp2"
	mode := types.PermissionAcceptEdits
	updated, err := s.UpdateProject(p.ID, types.ProjectUpdate{
		Name:           &newName,
		PermissionMode: &mode,
	})
	require.NoError(t, err)
	assert.Equal(t, "webapp2", updated.Name)
	assert.Equal(t, types.PermissionAcceptEdits, updated.PermissionMode)

	all, err := s.ListProjects()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteProject(p.ID))
	_, err = s.GetProject(p.ID)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestGetProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject("missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCreateSessionRequiresProject(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateSession(&types.Session{ProjectID: "missing"})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCreateSessionDefaults(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)

	sess := newTestSession(t, s, p.ID)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, types.StatusIdle, sess.Status)

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIdle, got.Status)
	assert.Equal(t, 0, got.MessageCount)
	assert.Zero(t, got.TotalCostUSD)
	assert.Nil(t, got.PendingApproval)
}

func TestValidTransitions(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)

	steps := []struct {
		to       types.SessionStatus
		errorMsg string
	}{
		{types.StatusRunning, ""},
		{types.StatusWaitingApproval, ""},
		{types.StatusRunning, ""},
		{types.StatusCompleted, ""},
		{types.StatusRunning, ""},
		{types.StatusError, "agent crashed"},
		{types.StatusRunning, ""},
	}

	sess := newTestSession(t, s, p.ID)
	for _, step := range steps {
		var err error
		if step.to == types.StatusWaitingApproval {
			_, err = s.SetPendingApproval(sess.ID, &types.PendingApproval{
				ToolName:    "Write",
				ToolUseID:   "toolu_1",
				RequestedAt: time.Now().UTC(),
			})
		} else {
			_, err = s.UpdateSessionStatus(sess.ID, step.to, step.errorMsg)
		}
		require.NoError(t, err, "transition to %s", step.to)
	}
}

func TestInvalidTransitions(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)

	cases := []struct {
		name    string
		prepare []types.SessionStatus
		to      types.SessionStatus
	}{
		{"idle to completed", nil, types.StatusCompleted},
		{"idle to error", nil, types.StatusError},
		{"completed to error", []types.SessionStatus{types.StatusRunning, types.StatusCompleted}, types.StatusError},
		{"error to completed", []types.SessionStatus{types.StatusRunning, types.StatusError}, types.StatusCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := newTestSession(t, s, p.ID)
			for _, st := range tc.prepare {
				_, err := s.UpdateSessionStatus(sess.ID, st, "boom")
				require.NoError(t, err)
			}
			_, err := s.UpdateSessionStatus(sess.ID, tc.to, "")
			require.Error(t, err)
			assert.True(t, IsStateError(err))
		})
	}
}

func TestSelfTransitionRejected(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	_, err := s.UpdateSessionStatus(sess.ID, types.StatusIdle, "")
	require.Error(t, err)
	assert.True(t, IsStateError(err))

	_, err = s.UpdateSessionStatus(sess.ID, types.StatusRunning, "")
	require.NoError(t, err)
	_, err = s.UpdateSessionStatus(sess.ID, types.StatusRunning, "")
	require.Error(t, err)
	assert.True(t, IsStateError(err))

	_, err = s.CompleteSession(sess.ID, 0)
	require.NoError(t, err)
	_, err = s.UpdateSessionStatus(sess.ID, types.StatusCompleted, "")
	require.Error(t, err)
	assert.True(t, IsStateError(err))
}

func TestSelfTransitionLeavesWaitingSessionUntouched(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	_, err := s.UpdateSessionStatus(sess.ID, types.StatusRunning, "")
	require.NoError(t, err)
	_, err = s.SetPendingApproval(sess.ID, &types.PendingApproval{
		ToolName:    "Bash",
		ToolUseID:   "toolu_7",
		RequestedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = s.UpdateSessionStatus(sess.ID, types.StatusWaitingApproval, "")
	require.Error(t, err)
	assert.True(t, IsStateError(err))

	// The rejected write must not clear the stored approval payload.
	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaitingApproval, got.Status)
	require.NotNil(t, got.PendingApproval)
	assert.Equal(t, "toolu_7", got.PendingApproval.ToolUseID)
}

func TestStateErrorNamesValidTransitions(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	_, err := s.UpdateSessionStatus(sess.ID, types.StatusCompleted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle -> completed")
	assert.Contains(t, err.Error(), "valid transitions from idle")
	assert.Contains(t, err.Error(), string(types.StatusRunning))
}

func TestErrorMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	_, err := s.UpdateSessionStatus(sess.ID, types.StatusRunning, "")
	require.NoError(t, err)

	failed, err := s.FailSession(sess.ID, "agent crashed")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, failed.Status)
	assert.Equal(t, "agent crashed", failed.ErrorMessage)

	// Retrying clears the error message.
	retried, err := s.UpdateSessionStatus(sess.ID, types.StatusRunning, "")
	require.NoError(t, err)
	assert.Empty(t, retried.ErrorMessage)
}

func TestPendingApprovalInvariant(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	// Approval payload is only settable from running.
	_, err := s.SetPendingApproval(sess.ID, &types.PendingApproval{ToolName: "Write"})
	require.Error(t, err)
	assert.True(t, IsStateError(err))

	_, err = s.UpdateSessionStatus(sess.ID, types.StatusRunning, "")
	require.NoError(t, err)

	approval := &types.PendingApproval{
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "rm -rf build"},
		ToolUseID: "toolu_9",
		Risk:      types.RiskHigh,
		Diff: &types.DiffPayload{
			Diff: "rm -rf build",
			Tier: types.DiffTierInline,
		},
		RequestedAt: time.Now().UTC(),
	}
	waiting, err := s.SetPendingApproval(sess.ID, approval)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaitingApproval, waiting.Status)
	require.NotNil(t, waiting.PendingApproval)

	// Payload survives a round trip through the database.
	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PendingApproval)
	assert.Equal(t, "Bash", got.PendingApproval.ToolName)
	assert.Equal(t, "toolu_9", got.PendingApproval.ToolUseID)
	assert.Equal(t, types.RiskHigh, got.PendingApproval.Risk)
	require.NotNil(t, got.PendingApproval.Diff)
	assert.Equal(t, "rm -rf build", got.PendingApproval.Diff.Diff)

	// Leaving waiting_approval clears the payload.
	resumed, err := s.UpdateSessionStatus(sess.ID, types.StatusRunning, "")
	require.NoError(t, err)
	assert.Nil(t, resumed.PendingApproval)

	got, err = s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PendingApproval)
}

func TestAgentSessionIDBinding(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	bound, err := s.BindAgentSessionID(sess.ID, "ext-abc-123")
	require.NoError(t, err)
	assert.Equal(t, "ext-abc-123", bound.AgentSessionID)
	// Binding the id is not a status transition.
	assert.Equal(t, types.StatusIdle, bound.Status)

	got, err := s.GetSessionByAgentID("ext-abc-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)

	none, err := s.GetSessionByAgentID("ext-unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSessionCostAccumulates(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	_, err := s.UpdateSessionStatus(sess.ID, types.StatusRunning, "")
	require.NoError(t, err)

	_, err = s.AddSessionCost(sess.ID, 0.01)
	require.NoError(t, err)
	done, err := s.CompleteSession(sess.ID, 0.02)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, done.Status)
	assert.InDelta(t, 0.03, done.TotalCostUSD, 1e-9)
}

func TestListSessionsFilters(t *testing.T) {
	s := newTestStore(t)
	p1 := newTestProject(t, s)
	p2 := &types.Project{Name: "other", Path: t.TempDir()}
	require.NoError(t, s.CreateProject(p2))

	a := newTestSession(t, s, p1.ID)
	newTestSession(t, s, p1.ID)
	newTestSession(t, s, p2.ID)

	_, err := s.UpdateSessionStatus(a.ID, types.StatusRunning, "")
	require.NoError(t, err)

	all, total, err := s.ListSessions(SessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	byProject, total, err := s.ListSessions(SessionFilter{ProjectID: p1.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byProject, 2)

	running, total, err := s.ListSessions(SessionFilter{Status: types.StatusRunning})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, running, 1)
	assert.Equal(t, a.ID, running[0].ID)

	paged, total, err := s.ListSessions(SessionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, paged, 2)
}

func TestMessagesAndCounting(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	_, err := s.AddMessage(sess.ID, types.RoleUser, "fix the login bug", "", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(sess.ID, types.RoleAssistant, "Looking into it.", "text", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(sess.ID, types.RoleToolUse, "Tool: Read", "tool_use",
		map[string]any{"tool_name": "Read"})
	require.NoError(t, err)

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)
	assert.Equal(t, "fix the login bug", got.LastPrompt)

	msgs, total, err := s.GetMessages(sess.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, msgs, 3)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleToolUse, msgs[2].Role)
	assert.Equal(t, "Read", msgs[2].Extra["tool_name"])

	limited, total, err := s.GetMessages(sess.ID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, limited, 2)
	assert.Equal(t, types.RoleAssistant, limited[0].Role)
}

func TestLastPromptTruncated(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	long := ""
	for len(long) < types.LastPromptMaxLength+500 {
		long += "refactor the billing module and add tests "
	}
	_, err := s.AddMessage(sess.ID, types.RoleUser, long, "", nil)
	require.NoError(t, err)

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.LastPrompt, types.LastPromptMaxLength)
}

func TestLastPromptTruncatesOnRuneBoundary(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)

	// A three-byte rune straddles the byte cap; the cut must back off to
	// the rune boundary instead of storing a broken tail.
	prompt := strings.Repeat("a", types.LastPromptMaxLength-1) + "世界"
	want := prompt[:types.LastPromptMaxLength-1]

	sess := &types.Session{ProjectID: p.ID, LastPrompt: prompt}
	require.NoError(t, s.CreateSession(sess))
	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(got.LastPrompt))
	assert.Equal(t, want, got.LastPrompt)

	// The same bound applies when a user message refreshes the prompt.
	other := newTestSession(t, s, p.ID)
	_, err = s.AddMessage(other.ID, types.RoleUser, prompt, "", nil)
	require.NoError(t, err)
	got, err = s.GetSession(other.ID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(got.LastPrompt))
	assert.Equal(t, want, got.LastPrompt)
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	sess := newTestSession(t, s, p.ID)

	_, err := s.AddMessage(sess.ID, types.RoleUser, "hello", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(sess.ID))

	_, err = s.GetSession(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = s.GetMessages(sess.ID, 0, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
