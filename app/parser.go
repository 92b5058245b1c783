package app

import (
	"context"
	"encoding/json"
	"fmt"

	"codegraphix.dev/engine/entitystore"
	"codegraphix.dev/engine/ingest"
	"codegraphix.dev/engine/relstore"
)

// wireEntity is one entity as an external extractor would emit it: named
// fields only, no Properties extensions.
type wireEntity struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Path      string `json:"path,omitempty"`
	Language  string `json:"language,omitempty"`
	Hash      string `json:"hash,omitempty"`
	Name      string `json:"name,omitempty"`
	Signature string `json:"signature,omitempty"`
	Docstring string `json:"docstring,omitempty"`
	Content   string `json:"content,omitempty"`
}

// wireRelationship is one relationship draft, target resolved by symbol
// reference when toEntityId isn't yet known (a pre-resolution code edge).
type wireRelationship struct {
	Type         string `json:"type"`
	FromEntityID string `json:"fromEntityId"`
	ToEntityID   string `json:"toEntityId,omitempty"`
	TargetSymbol string `json:"targetSymbol,omitempty"`
	TargetFile   string `json:"targetFile,omitempty"`
	TargetKind   string `json:"targetKind,omitempty"`
}

// extractionArtifact is the JSON document the ingest command consumes: the
// output of a language-specific AST extractor run ahead of time, outside
// this engine's scope.
type extractionArtifact struct {
	Entities      []wireEntity       `json:"entities"`
	Relationships []wireRelationship `json:"relationships"`
}

// artifactParser decodes one extraction artifact into ingest.ParseResult.
type artifactParser struct{}

func (artifactParser) Parse(ctx context.Context, change ingest.Change) (ingest.ParseResult, error) {
	var art extractionArtifact
	if err := json.Unmarshal(change.Content, &art); err != nil {
		return ingest.ParseResult{}, fmt.Errorf("invalid extraction artifact %s: %w", change.Path, err)
	}

	entities := make([]entitystore.Entity, 0, len(art.Entities))
	for _, we := range art.Entities {
		entities = append(entities, entitystore.Entity{
			ID: we.ID, Type: entitystore.Type(we.Type), Path: we.Path, Language: we.Language,
			Hash: we.Hash, Name: we.Name, Signature: we.Signature, Docstring: we.Docstring, Content: we.Content,
		})
	}

	drafts := make([]ingest.RelationshipDraft, 0, len(art.Relationships))
	for _, wr := range art.Relationships {
		drafts = append(drafts, ingest.RelationshipDraft{
			Relationship: relstore.Relationship{
				Type: relstore.Type(wr.Type), FromEntityID: wr.FromEntityID, ToEntityID: wr.ToEntityID,
			},
			Ref: relstore.TargetRef{Symbol: wr.TargetSymbol, File: wr.TargetFile, Kind: wr.TargetKind},
		})
	}

	return ingest.ParseResult{Entities: entities, Relationships: drafts}, nil
}
