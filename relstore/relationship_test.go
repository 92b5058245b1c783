package relstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalID_CodeEdgeIgnoresToEntityID(t *testing.T) {
	ref := TargetRef{Symbol: "helper", File: "util.go", Kind: "function"}

	preResolution := CanonicalID("caller1", TypeCalls, "", ref)
	postResolution := CanonicalID("caller1", TypeCalls, "callee1", ref)

	assert.Equal(t, preResolution, postResolution, "a code edge must canonicalize the same before and after target resolution")
}

func TestCanonicalID_NonCodeEdgeUsesToEntityID(t *testing.T) {
	a := CanonicalID("from1", TypeContains, "to1", TargetRef{})
	b := CanonicalID("from1", TypeContains, "to2", TargetRef{})

	assert.NotEqual(t, a, b, "a structural edge's identity must depend on its resolved target")
}

func TestCanonicalID_DifferentTypesDiffer(t *testing.T) {
	a := CanonicalID("from1", TypeCalls, "to1", TargetRef{Symbol: "x"})
	b := CanonicalID("from1", TypeUses, "to1", TargetRef{Symbol: "x"})
	assert.NotEqual(t, a, b)
}

func TestCanonicalID_Deterministic(t *testing.T) {
	ref := TargetRef{Symbol: "x", File: "a.go", Kind: "function"}
	a := CanonicalID("f1", TypeCalls, "t1", ref)
	b := CanonicalID("f1", TypeCalls, "t1", ref)
	assert.Equal(t, a, b)
}

func TestMergeEvidence_DedupesByFingerprint(t *testing.T) {
	now := time.Now()
	existing := []Evidence{{Fingerprint: "a.go:1:1:call", ObservedAt: now}}
	incoming := []Evidence{{Fingerprint: "a.go:1:1:call", ObservedAt: now.Add(time.Hour)}}

	merged := mergeEvidence(existing, incoming)
	assert.Len(t, merged, 1)
	assert.Equal(t, now.Add(time.Hour), merged[0].ObservedAt, "the newer observation should win on a fingerprint collision")
}

func TestMergeEvidence_KeepsNewerOnCollisionRegardlessOfOrder(t *testing.T) {
	now := time.Now()
	existing := []Evidence{{Fingerprint: "f1", ObservedAt: now.Add(time.Hour)}}
	incoming := []Evidence{{Fingerprint: "f1", ObservedAt: now}} // older than existing

	merged := mergeEvidence(existing, incoming)
	assert.Len(t, merged, 1)
	assert.Equal(t, now.Add(time.Hour), merged[0].ObservedAt)
}

func TestMergeEvidence_SortsByRecencyDescending(t *testing.T) {
	now := time.Now()
	existing := []Evidence{
		{Fingerprint: "f1", ObservedAt: now},
		{Fingerprint: "f2", ObservedAt: now.Add(2 * time.Hour)},
	}
	incoming := []Evidence{{Fingerprint: "f3", ObservedAt: now.Add(time.Hour)}}

	merged := mergeEvidence(existing, incoming)
	a := assert.New(t)
	a.Equal("f2", merged[0].Fingerprint)
	a.Equal("f3", merged[1].Fingerprint)
	a.Equal("f1", merged[2].Fingerprint)
}

func TestMergeEvidence_TruncatesToMaxEntries(t *testing.T) {
	var existing []Evidence
	now := time.Now()
	for i := 0; i < maxEvidenceEntries+5; i++ {
		existing = append(existing, Evidence{Fingerprint: string(rune('a' + i)), ObservedAt: now.Add(time.Duration(i) * time.Minute)})
	}

	merged := mergeEvidence(existing, nil)
	assert.Len(t, merged, maxEvidenceEntries)
}

func TestFingerprintOf_DistinctLocationsDiffer(t *testing.T) {
	a := fingerprintOf("a.go", 1, 2, "call")
	b := fingerprintOf("a.go", 1, 3, "call")
	assert.NotEqual(t, a, b)
}

func TestFingerprintOf_Deterministic(t *testing.T) {
	a := fingerprintOf("a.go", 1, 2, "call")
	b := fingerprintOf("a.go", 1, 2, "call")
	assert.Equal(t, a, b)
}
