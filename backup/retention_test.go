package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateRetention_MaxAgeDays(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	manifests := []Manifest{
		{ID: "old", CreatedAt: now.AddDate(0, 0, -40)},
		{ID: "recent", CreatedAt: now.AddDate(0, 0, -1)},
	}

	doomed := evaluateRetention(manifests, RetentionPolicy{MaxAgeDays: 30}, now)
	assert.Equal(t, []string{"old"}, doomed)
}

func TestEvaluateRetention_MaxEntriesKeepsMostRecent(t *testing.T) {
	now := time.Now().UTC()
	manifests := []Manifest{
		{ID: "a", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "b", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "c", CreatedAt: now.Add(-1 * time.Hour)},
	}

	doomed := evaluateRetention(manifests, RetentionPolicy{MaxEntries: 2}, now)
	assert.Equal(t, []string{"a"}, doomed, "oldest of the three must be the one evicted")
}

func TestEvaluateRetention_MaxTotalSizeBytes(t *testing.T) {
	now := time.Now().UTC()
	manifests := []Manifest{
		{ID: "newest", CreatedAt: now, SizeBytes: 100},
		{ID: "older", CreatedAt: now.Add(-time.Hour), SizeBytes: 100},
		{ID: "oldest", CreatedAt: now.Add(-2 * time.Hour), SizeBytes: 100},
	}

	doomed := evaluateRetention(manifests, RetentionPolicy{MaxTotalSizeBytes: 150}, now)
	assert.Equal(t, []string{"older", "oldest"}, doomed, "running total accrues newest-first; once the budget is exceeded every older entry stays doomed too")
}

func TestEvaluateRetention_NoPolicyLimitsKeepsEverything(t *testing.T) {
	now := time.Now().UTC()
	manifests := []Manifest{{ID: "a", CreatedAt: now}, {ID: "b", CreatedAt: now.Add(-time.Hour)}}

	doomed := evaluateRetention(manifests, RetentionPolicy{}, now)
	assert.Empty(t, doomed)
}

func TestEvaluateRetention_UnionsAcrossPolicies(t *testing.T) {
	now := time.Now().UTC()
	manifests := []Manifest{
		{ID: "a", CreatedAt: now},
		{ID: "b", CreatedAt: now.Add(-time.Hour)},
		{ID: "c", CreatedAt: now.Add(-40 * 24 * time.Hour)},
	}

	doomed := evaluateRetention(manifests, RetentionPolicy{MaxAgeDays: 30, MaxEntries: 1}, now)
	assert.Equal(t, []string{"b", "c"}, doomed)
}
