package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhase_IsTerminal(t *testing.T) {
	assert.True(t, PhaseCompleted.IsTerminal())
	assert.True(t, PhaseCancelled.IsTerminal())
	assert.True(t, PhaseFailed.IsTerminal())
	assert.False(t, PhasePending.IsTerminal())
	assert.False(t, PhaseExecution.IsTerminal())
}

func TestPhase_CanTransitionTo(t *testing.T) {
	assert.True(t, PhasePending.CanTransitionTo(PhasePreFlight))
	assert.True(t, PhasePlanning.CanTransitionTo(PhaseCancelling))
	assert.False(t, PhasePending.CanTransitionTo(PhaseCompleted), "pending cannot jump straight to completed")
	assert.False(t, PhaseCompleted.CanTransitionTo(PhasePending), "terminal phases have no outgoing transitions")
}

func TestPhaseManager_RegisterAndGet(t *testing.T) {
	pm := NewPhaseManager()
	state := pm.Register("op1", "backup", "backup-1", false)
	assert.Equal(t, PhasePending, state.Phase)

	got, ok := pm.Get("op1")
	assert.True(t, ok)
	assert.Equal(t, "backup-1", got.BackupID)
}

func TestPhaseManager_Get_UnknownOperation(t *testing.T) {
	pm := NewPhaseManager()
	_, ok := pm.Get("missing")
	assert.False(t, ok)
}

func TestPhaseManager_TransitionTo_ValidSequence(t *testing.T) {
	pm := NewPhaseManager()
	pm.Register("op1", "backup", "backup-1", false)

	assert.NoError(t, pm.TransitionTo("op1", PhasePreFlight, "starting"))
	assert.NoError(t, pm.TransitionTo("op1", PhasePlanning, "planned"))
	assert.NoError(t, pm.TransitionTo("op1", PhaseExecution, "executing"))

	state, _ := pm.Get("op1")
	assert.Equal(t, PhaseExecution, state.Phase)
	assert.Equal(t, PhasePlanning, state.PreviousPhase)
}

func TestPhaseManager_TransitionTo_RejectsInvalidTransition(t *testing.T) {
	pm := NewPhaseManager()
	pm.Register("op1", "backup", "backup-1", false)

	err := pm.TransitionTo("op1", PhaseCompleted, "skip ahead")
	assert.Error(t, err)
}

func TestPhaseManager_TransitionTo_BlocksExecutionWithoutApproval(t *testing.T) {
	pm := NewPhaseManager()
	pm.Register("restore1", "restore", "backup-1", true)
	pm.TransitionTo("restore1", PhasePreFlight, "")
	pm.TransitionTo("restore1", PhasePlanning, "")

	err := pm.TransitionTo("restore1", PhaseExecution, "go")
	assert.Error(t, err, "unapproved restore must not enter execution")
}

func TestPhaseManager_TransitionTo_ApprovalUnblocksExecution(t *testing.T) {
	pm := NewPhaseManager()
	pm.Register("restore1", "restore", "backup-1", true)
	pm.TransitionTo("restore1", PhasePreFlight, "")
	pm.TransitionTo("restore1", PhasePlanning, "")

	assert.NoError(t, pm.Approve("restore1"))
	assert.NoError(t, pm.TransitionTo("restore1", PhaseExecution, "go"))
}

func TestPhaseManager_Approve_UnknownOperation(t *testing.T) {
	pm := NewPhaseManager()
	err := pm.Approve("missing")
	assert.Error(t, err)
}

func TestPhaseManager_Remove(t *testing.T) {
	pm := NewPhaseManager()
	pm.Register("op1", "backup", "backup-1", false)
	pm.Remove("op1")

	_, ok := pm.Get("op1")
	assert.False(t, ok)
}
