package history

import (
	"context"
	"encoding/json"
	"time"

	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
)

// CheckpointExport is the portable JSON representation exportCheckpoint
// produces and importCheckpoint consumes.
type CheckpointExport struct {
	CheckpointID string                   `json:"checkpointId"`
	Reason       string                   `json:"reason"`
	Description  string                   `json:"description"`
	CreatedAt    time.Time                `json:"createdAt"`
	Members      []map[string]interface{} `json:"members"`
}

// ExportCheckpoint serializes a checkpoint and its members to a portable
// JSON document, suitable for inclusion in a backup artifact.
func (e *Engine) ExportCheckpoint(ctx context.Context, checkpointID string) (CheckpointExport, error) {
	cp, memberCount, err := e.GetCheckpointSummary(ctx, checkpointID)
	if err != nil {
		return CheckpointExport{}, err
	}
	_ = memberCount

	members, err := e.GetCheckpointMembers(ctx, checkpointID)
	if err != nil {
		return CheckpointExport{}, err
	}

	export := CheckpointExport{
		CheckpointID: checkpointID,
		Members:      make([]map[string]interface{}, 0, len(members)),
	}
	if reason, ok := cp.Properties["reason"].(string); ok {
		export.Reason = reason
	}
	if desc, ok := cp.Properties["description"].(string); ok {
		export.Description = desc
	}
	export.CreatedAt = parseRecordTime(cp.Properties["createdAt"])
	for _, m := range members {
		export.Members = append(export.Members, m.Properties)
	}
	return export, nil
}

// MarshalCheckpointExport serializes a CheckpointExport to JSON bytes.
func MarshalCheckpointExport(export CheckpointExport) ([]byte, error) {
	return json.Marshal(export)
}

// ImportCheckpoint recreates a checkpoint and its CHECKPOINT_INCLUDES
// edges from a previously exported document. Member entities must already
// exist in the target graph (import reconnects, it does not recreate
// entities).
func (e *Engine) ImportCheckpoint(ctx context.Context, data []byte) (string, error) {
	var export CheckpointExport
	if err := json.Unmarshal(data, &export); err != nil {
		return "", cgerrors.Wrap(cgerrors.CodeValidation, "failed to parse checkpoint export", err)
	}

	memberIDs := make([]string, 0, len(export.Members))
	for _, m := range export.Members {
		if id, ok := m["id"].(string); ok {
			memberIDs = append(memberIDs, id)
		}
	}

	_, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `CREATE (c:Checkpoint {id: $id, reason: $reason, description: $description, createdAt: $createdAt})
WITH c
UNWIND $memberIds AS memberId
MATCH (m:Entity {id: memberId})
MERGE (c)-[:CHECKPOINT_INCLUDES]->(m)`,
		Params: map[string]interface{}{
			"id":          export.CheckpointID,
			"reason":      export.Reason,
			"description": export.Description,
			"createdAt":   export.CreatedAt.UTC().Format(time.RFC3339Nano),
			"memberIds":   memberIDs,
		},
	})
	if err != nil {
		return "", cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to import checkpoint", err)
	}
	return export.CheckpointID, nil
}

func parseRecordTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
