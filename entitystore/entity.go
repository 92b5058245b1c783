package entitystore

import "time"

// Type is a tag from the closed set every entity's node carries as both a
// property and a derived Neo4j label.
type Type string

const (
	TypeFile            Type = "file"
	TypeDirectory       Type = "directory"
	TypeModule          Type = "module"
	TypeSymbol          Type = "symbol"
	TypeFunction        Type = "function"
	TypeClass           Type = "class"
	TypeInterface       Type = "interface"
	TypeTypeAlias       Type = "typeAlias"
	TypeTest            Type = "test"
	TypeSpec            Type = "spec"
	TypeDocumentation   Type = "documentation"
	TypeBusinessDomain  Type = "businessDomain"
	TypeSemanticCluster Type = "semanticCluster"
	TypeSession         Type = "session"
	TypeChange          Type = "change"
	TypeVersion         Type = "version"
	TypeCheckpoint      Type = "checkpoint"
)

// validTypes backs IsValidType without allocating a set literal per call.
var validTypes = map[Type]bool{
	TypeFile: true, TypeDirectory: true, TypeModule: true, TypeSymbol: true,
	TypeFunction: true, TypeClass: true, TypeInterface: true, TypeTypeAlias: true,
	TypeTest: true, TypeSpec: true, TypeDocumentation: true, TypeBusinessDomain: true,
	TypeSemanticCluster: true, TypeSession: true, TypeChange: true, TypeVersion: true,
	TypeCheckpoint: true,
}

// IsValidType reports whether t belongs to the closed entity type set.
func IsValidType(t Type) bool { return validTypes[t] }

// Entity is the polymorphic node every store and pipeline stage operates
// over. Required fields are always populated; variant fields are left at
// their zero value when not applicable to Type, and Properties carries
// anything beyond the named variant fields (per-type extensions).
type Entity struct {
	ID           string
	Type         Type
	Created      time.Time
	LastModified time.Time

	Path       string
	Language   string
	Hash       string
	Name       string
	Signature  string
	Docstring  string
	Content    string

	Properties map[string]Value
}

// Patch describes a partial update to an Entity. Only non-nil fields are
// applied; ID changes are rejected by the store regardless of what a Patch
// carries.
type Patch struct {
	Path       *string
	Language   *string
	Hash       *string
	Name       *string
	Signature  *string
	Docstring  *string
	Content    *string
	Properties map[string]Value
}

// ListFilter narrows EntityStore.List. Zero values mean "unfiltered" for
// that dimension.
type ListFilter struct {
	Type         Type
	PathPrefix   string
	NameContains string
	Limit        int
	Offset       int
	OrderBy      string
	OrderDir     string // "ASC" | "DESC"
}

// ListResult is List's paginated response; Total is computed in the same
// logical transaction as Items so pagination never reads a shifting count.
type ListResult struct {
	Items []Entity
	Total int64
}

// BulkOptions controls how BulkCreate treats entities that already exist.
type BulkOptions struct {
	SkipExisting   bool
	UpdateExisting bool
}

// BulkResult reports per-outcome counts. A whole-batch failure reports
// {0, 0, len(entities)} — BulkCreate never returns a partially-applied
// count.
type BulkResult struct {
	Created int
	Updated int
	Failed  int
}

// Stats summarizes the entity population.
type Stats struct {
	Total            int64
	ByType           map[Type]int64
	RecentlyModified int64 // modified within the last 7 days
}
