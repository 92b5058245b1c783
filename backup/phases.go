package backup

import (
	"fmt"
	"sync"
	"time"
)

// Phase is a backup or restore operation's lifecycle state, adapted from
// coordinator/phases.go's Phase/ValidTransitions/PhaseManager — generalized
// from workflow-execution phases down to the phases a backup/restore run
// actually passes through, with an approval gate added as a precondition
// on the execution transition (history/phase.go adapts the same teacher
// file to a narrower, ungated checkpoint lifecycle; this is the broader,
// gated sibling for C9).
type Phase string

const (
	PhasePending    Phase = "pending"
	PhasePreFlight  Phase = "pre_flight"
	PhasePlanning   Phase = "planning"
	PhaseExecution  Phase = "execution"
	PhaseCompleting Phase = "completing"
	PhaseCompleted  Phase = "completed"
	PhaseCancelling Phase = "cancelling"
	PhaseCancelled  Phase = "cancelled"
	PhaseFailed     Phase = "failed"
)

var validTransitions = map[Phase][]Phase{
	PhasePending:    {PhasePreFlight, PhaseFailed},
	PhasePreFlight:  {PhasePlanning, PhaseFailed},
	PhasePlanning:   {PhaseExecution, PhaseCancelling, PhaseFailed},
	PhaseExecution:  {PhaseCompleting, PhaseCancelling, PhaseFailed},
	PhaseCompleting: {PhaseCompleted, PhaseFailed},
	PhaseCancelling: {PhaseCancelled, PhaseFailed},
}

// IsTerminal reports whether the phase accepts no further transitions.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// CanTransitionTo checks a proposed transition against validTransitions.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, valid := range validTransitions[p] {
		if valid == target {
			return true
		}
	}
	return false
}

// OperationState tracks one backup/restore run's phase and its approval
// gate. Restore runs carry RequiresApproval/Approved; backup runs leave
// both false since createBackup has no approval step.
type OperationState struct {
	OperationID      string
	Kind             string // "backup" | "restore"
	BackupID         string
	Phase            Phase
	PreviousPhase    Phase
	ChangedAt        time.Time
	Reason           string
	RequiresApproval bool
	Approved         bool
}

// PhaseManager tracks in-flight backup/restore operations, the same
// bounded-by-caller-lifetime in-memory map coordinator/phases.go's
// PhaseManager keeps for workflows, scoped to one Coordinator instance.
type PhaseManager struct {
	mu sync.RWMutex
	ops map[string]*OperationState
}

// NewPhaseManager creates an empty phase manager.
func NewPhaseManager() *PhaseManager {
	return &PhaseManager{ops: make(map[string]*OperationState)}
}

// Register starts tracking a new operation in PhasePending.
func (pm *PhaseManager) Register(operationID, kind, backupID string, requiresApproval bool) *OperationState {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	state := &OperationState{
		OperationID:      operationID,
		Kind:             kind,
		BackupID:         backupID,
		Phase:            PhasePending,
		ChangedAt:        time.Now().UTC(),
		RequiresApproval: requiresApproval,
	}
	pm.ops[operationID] = state
	return state
}

// Get returns a copy of an operation's current state.
func (pm *PhaseManager) Get(operationID string) (OperationState, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	state, ok := pm.ops[operationID]
	if !ok {
		return OperationState{}, false
	}
	return *state, true
}

// Approve marks an operation approved, required before it may enter
// PhaseExecution when RequiresApproval is set.
func (pm *PhaseManager) Approve(operationID string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	state, ok := pm.ops[operationID]
	if !ok {
		return fmt.Errorf("operation not found: %s", operationID)
	}
	state.Approved = true
	return nil
}

// TransitionTo attempts a phase transition, refusing to enter
// PhaseExecution on an operation that requires approval it hasn't received.
func (pm *PhaseManager) TransitionTo(operationID string, target Phase, reason string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	state, ok := pm.ops[operationID]
	if !ok {
		return fmt.Errorf("operation not found: %s", operationID)
	}
	if !state.Phase.CanTransitionTo(target) {
		return fmt.Errorf("invalid transition from %s to %s for operation %s", state.Phase, target, operationID)
	}
	if target == PhaseExecution && state.RequiresApproval && !state.Approved {
		return fmt.Errorf("operation %s requires approval before execution", operationID)
	}

	state.PreviousPhase = state.Phase
	state.Phase = target
	state.ChangedAt = time.Now().UTC()
	state.Reason = reason
	return nil
}

// Remove stops tracking a completed/cancelled/failed operation.
func (pm *PhaseManager) Remove(operationID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.ops, operationID)
}
