package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertOwnershipInvariant checks assigned_agent is non-nil iff AI is disabled
func assertOwnershipInvariant(t *testing.T, h Handoff) {
	t.Helper()
	assert.Equal(t, !h.AIEnabled(), h.AssignedAgent() != nil, "phase %s", h.Phase)
}

func TestHandoff_EscalateOnlyOnce(t *testing.T) {
	h := Automated()
	assertOwnershipInvariant(t, h)

	escalated, changed := h.Escalate()
	require.True(t, changed)
	assert.Equal(t, HandoffPending, escalated.Phase)
	assert.True(t, escalated.Notified)
	assert.False(t, escalated.AIEnabled())
	assertOwnershipInvariant(t, escalated)

	again, changed := escalated.Escalate()
	assert.False(t, changed)
	assert.Equal(t, escalated, again)
}

func TestHandoff_ForceEscalateIgnoresNotified(t *testing.T) {
	pending := Handoff{Phase: HandoffPending, Notified: true}
	assert.Equal(t, pending, pending.ForceEscalate())

	owned := Handoff{Phase: HandoffHuman, Operator: "ana"}
	forced := owned.ForceEscalate()
	assert.Equal(t, "ana", forced.Operator)
	assert.True(t, forced.Notified)
	assertOwnershipInvariant(t, forced)
}

func TestHandoff_ClaimAndRelease(t *testing.T) {
	h, _ := Automated().Escalate()

	owned, err := h.Claim("ana")
	require.NoError(t, err)
	assert.Equal(t, HandoffHuman, owned.Phase)
	assert.Equal(t, "ana", *owned.AssignedAgent())
	assert.True(t, owned.Notified, "claim keeps notification history")

	// idempotent for the same operator
	again, err := owned.Claim("ana")
	require.NoError(t, err)
	assert.Equal(t, owned, again)

	_, err = owned.Claim("luis")
	assert.ErrorIs(t, err, ErrOperatorConflict)

	_, err = owned.Release("luis")
	assert.ErrorIs(t, err, ErrOperatorConflict)

	released, err := owned.Release("ana")
	require.NoError(t, err)
	assert.Equal(t, Automated(), released)
	assert.False(t, released.Notified, "hand back resets notification")

	// releasing an automated conversation is a no-op
	same, err := released.Release("ana")
	require.NoError(t, err)
	assert.Equal(t, released, same)
}

func TestHandoff_ReleasePendingRequiresTakeOver(t *testing.T) {
	h, _ := Automated().Escalate()
	_, err := h.Release("ana")
	assert.ErrorIs(t, err, ErrNotAssigned)
}

func TestHandoff_ClaimRequiresOperator(t *testing.T) {
	_, err := Automated().Claim("")
	assert.ErrorIs(t, err, ErrOperatorRequired)
}

func TestHandoffFromColumns(t *testing.T) {
	ana := "ana"
	pool := OperatorPool

	tests := []struct {
		name     string
		ai       bool
		assigned *string
		notified bool
		want     Handoff
	}{
		{"automated", true, nil, false, Automated()},
		{"automated ignores stale assignment", true, &ana, true, Automated()},
		{"automated reads back un-notified", true, nil, true, Automated()},
		{"pending from pool", false, &pool, true, Handoff{Phase: HandoffPending, Notified: true}},
		{"pending from null", false, nil, false, Handoff{Phase: HandoffPending, Notified: true}},
		{"human", false, &ana, false, Handoff{Phase: HandoffHuman, Operator: "ana"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HandoffFromColumns(tt.ai, tt.assigned, tt.notified)
			assert.Equal(t, tt.want, got)
			assertOwnershipInvariant(t, got)
		})
	}
}
