// Package namespace provides the tenant/namespace id-prefix policy applied
// uniformly by every store. A Scope is frozen at process start and threaded
// by read-only handle into the stores it scopes, the same
// immutable-fields-with-copy-on-With* discipline common/logger.go's
// ContextLogger uses for its field set.
package namespace

import "strings"

// Scope is an immutable namespace binding. The zero value is the unscoped
// (empty-prefix) namespace.
type Scope struct {
	entityPrefix  string
	redisPrefix   string
	codeCollection string
	docCollection  string
}

// Config configures a Scope at construction time.
type Config struct {
	EntityPrefix         string
	RedisPrefix          string
	CodeVectorCollection string
	DocVectorCollection  string
}

// New freezes a Scope from the given config, defaulting unset collection
// names so callers never need to special-case an empty Scope.
func New(cfg Config) *Scope {
	s := &Scope{
		entityPrefix:   cfg.EntityPrefix,
		redisPrefix:    cfg.RedisPrefix,
		codeCollection: cfg.CodeVectorCollection,
		docCollection:  cfg.DocVectorCollection,
	}
	if s.codeCollection == "" {
		s.codeCollection = s.prefixed("code")
	}
	if s.docCollection == "" {
		s.docCollection = s.prefixed("documentation")
	}
	return s
}

func (s *Scope) prefixed(id string) string {
	if s.entityPrefix == "" || strings.HasPrefix(id, s.entityPrefix) {
		return id
	}
	return s.entityPrefix + id
}

// RequireEntityID prefixes a required entity id, if not already prefixed.
func (s *Scope) RequireEntityID(id string) string {
	return s.prefixed(id)
}

// OptionalEntityID prefixes an optional entity id, passing through "".
func (s *Scope) OptionalEntityID(id string) string {
	if id == "" {
		return ""
	}
	return s.prefixed(id)
}

// EntityIDArray prefixes every id in a slice.
func (s *Scope) EntityIDArray(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.prefixed(id)
	}
	return out
}

// RequireRelationshipID applies the same prefixing policy as entities —
// relationship and entity ids share one namespace.
func (s *Scope) RequireRelationshipID(id string) string {
	return s.prefixed(id)
}

// OptionalRelationshipID prefixes an optional relationship id.
func (s *Scope) OptionalRelationshipID(id string) string {
	return s.OptionalEntityID(id)
}

// QualifyRedisKey prefixes an auxiliary KV key (queue keys, locks, caches).
func (s *Scope) QualifyRedisKey(key string) string {
	if s.redisPrefix == "" || strings.HasPrefix(key, s.redisPrefix) {
		return key
	}
	return s.redisPrefix + key
}

// QdrantCollection returns the bound vector collection name for "code" or
// "documentation" kinds.
func (s *Scope) QdrantCollection(kind string) string {
	if kind == "documentation" {
		return s.docCollection
	}
	return s.codeCollection
}
