package relstore

import (
	"encoding/json"
	"time"

	"codegraphix.dev/engine/graphstore"
)

func toParams(rel Relationship) (map[string]interface{}, error) {
	evidenceJSON, err := json.Marshal(rel.Evidence)
	if err != nil {
		return nil, err
	}
	locationsJSON, err := json.Marshal(rel.Locations)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"id":               rel.ID,
		"fromEntityId":     rel.FromEntityID,
		"toEntityId":       rel.ToEntityID,
		"created":          rel.Created.UTC().Format(time.RFC3339Nano),
		"lastModified":     rel.LastModified.UTC().Format(time.RFC3339Nano),
		"version":          rel.Version,
		"validFrom":        rel.ValidFrom.UTC().Format(time.RFC3339Nano),
		"evidence":         string(evidenceJSON),
		"locations":        string(locationsJSON),
		"confidence":       rel.Confidence,
		"occurrencesTotal": rel.OccurrencesTotal,
		"lastSeenAt":       rel.LastSeenAt.UTC().Format(time.RFC3339Nano),
		"active":           rel.Active,
		"changeSetId":      rel.ChangeSetID,
	}
	if rel.ValidTo != nil {
		params["validTo"] = rel.ValidTo.UTC().Format(time.RFC3339Nano)
	} else {
		params["validTo"] = nil
	}
	return params, nil
}

func fromRecord(r graphstore.Record) (Relationship, error) {
	rel := Relationship{}
	props := r.Properties

	if v, ok := props["id"].(string); ok {
		rel.ID = v
	}
	if v, ok := props["relType"].(string); ok {
		rel.Type = Type(v)
	} else if len(r.Labels) == 1 {
		rel.Type = Type(r.Labels[0])
	}
	if v, ok := props["fromEntityId"].(string); ok {
		rel.FromEntityID = v
	}
	if v, ok := props["toEntityId"].(string); ok {
		rel.ToEntityID = v
	}
	rel.Created = parseTime(props["created"])
	rel.LastModified = parseTime(props["lastModified"])
	rel.ValidFrom = parseTime(props["validFrom"])
	if props["validTo"] != nil {
		t := parseTime(props["validTo"])
		rel.ValidTo = &t
	}
	if v, ok := props["version"].(int64); ok {
		rel.Version = v
	}
	if v, ok := props["confidence"].(float64); ok {
		rel.Confidence = v
	}
	if v, ok := props["occurrencesTotal"].(int64); ok {
		rel.OccurrencesTotal = v
	}
	rel.LastSeenAt = parseTime(props["lastSeenAt"])
	if v, ok := props["active"].(bool); ok {
		rel.Active = v
	}
	if v, ok := props["changeSetId"].(string); ok {
		rel.ChangeSetID = v
	}
	if v, ok := props["evidence"].(string); ok && v != "" {
		_ = json.Unmarshal([]byte(v), &rel.Evidence)
	}
	if v, ok := props["locations"].(string); ok && v != "" {
		_ = json.Unmarshal([]byte(v), &rel.Locations)
	}
	return rel, nil
}

func parseTime(v interface{}) time.Time {
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
