// Package relstore implements RelationshipStore (C4): canonical-id edge
// creation with MERGE semantics, evidence/location deduplication and
// merge, maintenance sweeps (inactivity close, normalized-duplicate fold),
// and endpoint/type validation. Canonical-id hashing and the evidence cap
// follow spec.md §4.4 and the Design Note's fingerprint-dedup decision.
package relstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Type is a relationship type from the closed enumeration.
type Type string

const (
	TypeContains          Type = "CONTAINS"
	TypeDefines           Type = "DEFINES"
	TypeExports           Type = "EXPORTS"
	TypeImports           Type = "IMPORTS"
	TypeCalls             Type = "CALLS"
	TypeReferences        Type = "REFERENCES"
	TypeImplements         Type = "IMPLEMENTS"
	TypeExtends            Type = "EXTENDS"
	TypeDependsOn          Type = "DEPENDS_ON"
	TypeUses               Type = "USES"
	TypeTests              Type = "TESTS"
	TypeValidates          Type = "VALIDATES"
	TypeRequires           Type = "REQUIRES"
	TypeImpacts            Type = "IMPACTS"
	TypePreviousVersion    Type = "PREVIOUS_VERSION"
	TypeVersionOf          Type = "VERSION_OF"
	TypeModifiedIn         Type = "MODIFIED_IN"
	TypeIntroducedIn       Type = "INTRODUCED_IN"
	TypeRemovedIn          Type = "REMOVED_IN"
	TypeSessionModified    Type = "SESSION_MODIFIED"
	TypeSessionImpacted    Type = "SESSION_IMPACTED"
	TypeSessionCheckpoint  Type = "SESSION_CHECKPOINT"
	TypeBrokeIn            Type = "BROKE_IN"
	TypeFixedIn            Type = "FIXED_IN"
	TypeDependsOnChange    Type = "DEPENDS_ON_CHANGE"
	TypeCheckpointIncludes Type = "CHECKPOINT_INCLUDES"
	TypeDescribesDomain    Type = "DESCRIBES_DOMAIN"
	TypeBelongsToDomain    Type = "BELONGS_TO_DOMAIN"
	TypeDocumentedBy       Type = "DOCUMENTED_BY"
	TypeClusterMember      Type = "CLUSTER_MEMBER"
	TypeDocumentsSection   Type = "DOCUMENTS_SECTION"
)

// codeEdgeTypes are edge types whose canonical identity is derived from a
// pre-resolution symbol reference rather than a resolved toEntityId, so
// that an edge recorded before its target exists collapses with the same
// edge recorded after resolution.
var codeEdgeTypes = map[Type]bool{
	TypeCalls: true, TypeUses: true, TypeReferences: true, TypeImports: true,
	TypeExtends: true, TypeImplements: true,
}

// TargetRef is the normalized target reference used in canonical-id
// hashing for code edges: the symbol name, declaring file, and reference
// kind, rather than a resolved entity id.
type TargetRef struct {
	Symbol string
	File   string
	Kind   string
}

// Evidence is a single observed occurrence backing a relationship,
// deduplicated by Fingerprint and capped per merge to the 20 most recent
// entries.
type Evidence struct {
	Fingerprint string
	File        string
	Line        int
	Column      int
	Kind        string
	Confidence  float64
	ObservedAt  time.Time
}

// Relationship is the directed typed edge between two entities.
type Relationship struct {
	ID           string
	Type         Type
	FromEntityID string
	ToEntityID   string
	Created      time.Time
	LastModified time.Time
	Version      int64

	ValidFrom time.Time
	ValidTo   *time.Time

	Evidence         []Evidence
	Locations        []Evidence
	Confidence       float64
	OccurrencesTotal int64
	LastSeenAt       time.Time
	Active           bool
	ChangeSetID      string
}

// maxEvidenceEntries bounds evidence/location lists per the data model's
// ≤20 invariant.
const maxEvidenceEntries = 20

// CanonicalID computes the deterministic relationship identity: a sha256
// hash of fromEntityId, type, and the normalized target reference. Code
// edges hash on (symbol, file, kind) instead of toEntityId so a
// pre-resolution edge and its post-resolution counterpart share an id.
func CanonicalID(fromEntityID string, relType Type, toEntityID string, ref TargetRef) string {
	h := sha256.New()
	h.Write([]byte(fromEntityID))
	h.Write([]byte{0})
	h.Write([]byte(relType))
	h.Write([]byte{0})
	if codeEdgeTypes[relType] {
		h.Write([]byte(ref.Symbol))
		h.Write([]byte{0})
		h.Write([]byte(ref.File))
		h.Write([]byte{0})
		h.Write([]byte(ref.Kind))
	} else {
		h.Write([]byte(toEntityID))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// mergeEvidence combines two evidence lists by fingerprint, preferring the
// newer entry on a collision, sorting by recency, and truncating to
// maxEvidenceEntries.
func mergeEvidence(existing, incoming []Evidence) []Evidence {
	byFingerprint := make(map[string]Evidence, len(existing)+len(incoming))
	for _, e := range existing {
		byFingerprint[e.Fingerprint] = e
	}
	for _, e := range incoming {
		if prior, ok := byFingerprint[e.Fingerprint]; ok && prior.ObservedAt.After(e.ObservedAt) {
			continue
		}
		byFingerprint[e.Fingerprint] = e
	}

	merged := make([]Evidence, 0, len(byFingerprint))
	for _, e := range byFingerprint {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ObservedAt.After(merged[j].ObservedAt) })

	if len(merged) > maxEvidenceEntries {
		merged = merged[:maxEvidenceEntries]
	}
	return merged
}

func fingerprintOf(file string, line, column int, kind string) string {
	return fmt.Sprintf("%s:%d:%d:%s", file, line, column, kind)
}
