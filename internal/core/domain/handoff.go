package domain

// HandoffPhase tags who currently speaks for the business on a conversation
type HandoffPhase string

const (
	// HandoffAutomated: the automated responder replies
	HandoffAutomated HandoffPhase = "automated"
	// HandoffPending: escalated and surfaced to operators, nobody has claimed it yet
	HandoffPending HandoffPhase = "pending"
	// HandoffHuman: a named operator owns the conversation exclusively
	HandoffHuman HandoffPhase = "human"
)

// OperatorPool is the assigned-agent value of an escalated conversation that no
// operator has claimed yet. The operator team as a whole owns it.
const OperatorPool = "operators"

// Handoff is the tagged handoff state. It replaces independently mutable
// ai_enabled / assigned_agent / handoff_notified flags; the flags are derived.
type Handoff struct {
	Phase    HandoffPhase `json:"phase"`
	Operator string       `json:"operator,omitempty"` // set only in HandoffHuman
	Notified bool         `json:"handoff_notified"`   // escalation already surfaced this episode
}

// Automated returns the initial handoff state of every conversation
func Automated() Handoff {
	return Handoff{Phase: HandoffAutomated}
}

// AIEnabled reports whether automation may reply
func (h Handoff) AIEnabled() bool {
	return h.Phase == HandoffAutomated
}

// AssignedAgent is non-nil iff AI is disabled
func (h Handoff) AssignedAgent() *string {
	switch h.Phase {
	case HandoffHuman:
		op := h.Operator
		return &op
	case HandoffPending:
		pool := OperatorPool
		return &pool
	default:
		return nil
	}
}

// Escalate moves an automated conversation to the operator queue.
// It reports false, leaving the state unchanged, when escalation was already
// surfaced or automation is not in charge.
func (h Handoff) Escalate() (Handoff, bool) {
	if h.Phase != HandoffAutomated || h.Notified {
		return h, false
	}
	return Handoff{Phase: HandoffPending, Notified: true}, true
}

// ForceEscalate surfaces the conversation regardless of notification history.
// A human already owning the conversation keeps it.
func (h Handoff) ForceEscalate() Handoff {
	if h.Phase == HandoffHuman {
		h.Notified = true
		return h
	}
	return Handoff{Phase: HandoffPending, Notified: true}
}

// Claim gives exclusive ownership to operator. Claiming a conversation owned by
// someone else fails with ErrOperatorConflict.
func (h Handoff) Claim(operator string) (Handoff, error) {
	if operator == "" {
		return h, ErrOperatorRequired
	}
	if h.Phase == HandoffHuman && h.Operator != operator {
		return h, ErrOperatorConflict
	}
	return Handoff{Phase: HandoffHuman, Operator: operator, Notified: h.Notified}, nil
}

// Release returns the conversation to automation. Only the owning operator may
// release it; releasing an automated conversation is a no-op.
func (h Handoff) Release(operator string) (Handoff, error) {
	switch h.Phase {
	case HandoffAutomated:
		return h, nil
	case HandoffPending:
		return h, ErrNotAssigned
	}
	if h.Operator != operator {
		return h, ErrOperatorConflict
	}
	return Automated(), nil
}

// HandoffFromColumns rebuilds the tagged state from stored flag columns.
// Inconsistent rows collapse to the closest valid state. An automated row
// (aiEnabled) always reads back un-notified whatever its stored flag says:
// handing back resets the flag, so the next escalation notifies again.
func HandoffFromColumns(aiEnabled bool, assigned *string, notified bool) Handoff {
	if aiEnabled {
		return Handoff{Phase: HandoffAutomated, Notified: false}
	}
	if assigned == nil || *assigned == "" || *assigned == OperatorPool {
		return Handoff{Phase: HandoffPending, Notified: true}
	}
	return Handoff{Phase: HandoffHuman, Operator: *assigned, Notified: notified}
}
