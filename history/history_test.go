package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
)

func TestVersionIDFor_Deterministic(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := versionIDFor("entity1", "hash1", ts)
	b := versionIDFor("entity1", "hash1", ts)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestVersionIDFor_SensitiveToEntityID(t *testing.T) {
	ts := time.Now()
	a := versionIDFor("entity1", "hash1", ts)
	b := versionIDFor("entity2", "hash1", ts)
	assert.NotEqual(t, a, b)
}

func TestVersionIDFor_SensitiveToHash(t *testing.T) {
	ts := time.Now()
	a := versionIDFor("entity1", "hash1", ts)
	b := versionIDFor("entity1", "hash2", ts)
	assert.NotEqual(t, a, b)
}

func TestVersionIDFor_SensitiveToTimestamp(t *testing.T) {
	a := versionIDFor("entity1", "hash1", time.Unix(0, 0))
	b := versionIDFor("entity1", "hash1", time.Unix(1, 0))
	assert.NotEqual(t, a, b)
}

func TestCheckpointIDFor_Deterministic(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := checkpointIDFor([]string{"e1", "e2"}, ts)
	b := checkpointIDFor([]string{"e1", "e2"}, ts)
	assert.Equal(t, a, b)
}

func TestCheckpointIDFor_HasPrefix(t *testing.T) {
	id := checkpointIDFor([]string{"e1"}, time.Now())
	assert.True(t, len(id) > 3 && id[:3] == "cp_")
}

func TestCheckpointIDFor_OrderSensitive(t *testing.T) {
	ts := time.Now()
	a := checkpointIDFor([]string{"e1", "e2"}, ts)
	b := checkpointIDFor([]string{"e2", "e1"}, ts)
	assert.NotEqual(t, a, b, "seed order changes the hashed byte stream")
}

func TestCheckpointIDFor_SensitiveToTimestamp(t *testing.T) {
	a := checkpointIDFor([]string{"e1"}, time.Unix(0, 0))
	b := checkpointIDFor([]string{"e1"}, time.Unix(1, 0))
	assert.NotEqual(t, a, b)
}

func TestJoinWithPipe_Empty(t *testing.T) {
	assert.Equal(t, "", joinWithPipe(nil))
}

func TestJoinWithPipe_Single(t *testing.T) {
	assert.Equal(t, "CALLS", joinWithPipe([]string{"CALLS"}))
}

func TestJoinWithPipe_Multiple(t *testing.T) {
	assert.Equal(t, "CALLS|USES|CONTAINS", joinWithPipe([]string{"CALLS", "USES", "CONTAINS"}))
}

func TestCountOf_EmptyRows(t *testing.T) {
	assert.Equal(t, int64(0), countOf(nil))
}

func TestCountOf_ReadsFirstRowCount(t *testing.T) {
	rows := []graphstore.Record{{Properties: map[string]interface{}{"n": int64(7)}}}
	assert.Equal(t, int64(7), countOf(rows))
}

func TestCountOf_MissingKeyDefaultsToZero(t *testing.T) {
	rows := []graphstore.Record{{Properties: map[string]interface{}{}}}
	assert.Equal(t, int64(0), countOf(rows))
}

func TestCheckpointPhase_IsTerminal(t *testing.T) {
	assert.True(t, PhaseFrozen.IsTerminal())
	assert.True(t, PhaseFailed.IsTerminal())
	assert.False(t, PhasePending.IsTerminal())
	assert.False(t, PhaseMaterializing.IsTerminal())
}

func TestCheckpointPhase_CanTransitionTo(t *testing.T) {
	assert.True(t, PhasePending.CanTransitionTo(PhaseMaterializing))
	assert.True(t, PhasePending.CanTransitionTo(PhaseFailed))
	assert.False(t, PhasePending.CanTransitionTo(PhaseFrozen))
	assert.True(t, PhaseMaterializing.CanTransitionTo(PhaseFrozen))
	assert.False(t, PhaseFrozen.CanTransitionTo(PhaseMaterializing))
}

func TestPhaseTracker_RegisterStartsPending(t *testing.T) {
	tr := newPhaseTracker()
	state := tr.register("cp_1", "scheduled")
	assert.Equal(t, PhasePending, state.Phase)
	assert.Equal(t, "scheduled", state.Reason)
}

func TestPhaseTracker_TransitionValidSequence(t *testing.T) {
	tr := newPhaseTracker()
	tr.register("cp_1", "scheduled")

	assert.True(t, tr.transition("cp_1", PhaseMaterializing))
	assert.True(t, tr.transition("cp_1", PhaseFrozen))

	state, ok := tr.get("cp_1")
	assert.True(t, ok)
	assert.Equal(t, PhaseFrozen, state.Phase)
}

func TestPhaseTracker_TransitionRejectsInvalidJump(t *testing.T) {
	tr := newPhaseTracker()
	tr.register("cp_1", "scheduled")

	assert.False(t, tr.transition("cp_1", PhaseFrozen), "pending cannot jump straight to frozen")
}

func TestPhaseTracker_TransitionUnknownCheckpointFails(t *testing.T) {
	tr := newPhaseTracker()
	assert.False(t, tr.transition("missing", PhaseFrozen))
}

func TestPhaseTracker_GetReturnsACopy(t *testing.T) {
	tr := newPhaseTracker()
	tr.register("cp_1", "scheduled")

	state, ok := tr.get("cp_1")
	assert.True(t, ok)
	state.Phase = PhaseFrozen

	fresh, _ := tr.get("cp_1")
	assert.Equal(t, PhasePending, fresh.Phase, "mutating a returned copy must not affect tracker state")
}

func TestPhaseTracker_GetUnknownCheckpoint(t *testing.T) {
	tr := newPhaseTracker()
	_, ok := tr.get("missing")
	assert.False(t, ok)
}

func TestPruneHistory_RejectsZeroRetentionDays(t *testing.T) {
	e := &Engine{}
	_, err := e.PruneHistory(context.Background(), 0, false)
	require.Error(t, err)
	code, ok := cgerrors.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, cgerrors.CodeValidation, code)
}

func TestPruneHistory_RejectsNegativeRetentionDays(t *testing.T) {
	e := &Engine{}
	_, err := e.PruneHistory(context.Background(), -5, true)
	require.Error(t, err)
	code, ok := cgerrors.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, cgerrors.CodeValidation, code)
}
