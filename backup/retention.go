package backup

import (
	"context"
	"sort"
	"time"
)

// evaluateRetention applies policy to the full manifest set (most-recent
// first) and returns the ids that must be deleted to bring the set back
// within max-age, max-count, and max-total-size bounds. Evaluated after
// every successful backup, per the base spec.
func evaluateRetention(manifests []Manifest, policy RetentionPolicy, now time.Time) []string {
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].CreatedAt.After(manifests[j].CreatedAt) })

	doomed := make(map[string]bool)

	if policy.MaxAgeDays > 0 {
		cutoff := now.AddDate(0, 0, -policy.MaxAgeDays)
		for _, m := range manifests {
			if m.CreatedAt.Before(cutoff) {
				doomed[m.ID] = true
			}
		}
	}

	if policy.MaxEntries > 0 && len(manifests) > policy.MaxEntries {
		for _, m := range manifests[policy.MaxEntries:] {
			doomed[m.ID] = true
		}
	}

	if policy.MaxTotalSizeBytes > 0 {
		var total int64
		for _, m := range manifests {
			if doomed[m.ID] {
				continue
			}
			total += m.SizeBytes
			if total > policy.MaxTotalSizeBytes {
				doomed[m.ID] = true
			}
		}
	}

	out := make([]string, 0, len(doomed))
	for id := range doomed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// enforceRetention deletes every manifest evaluateRetention flags: its
// artifacts via the originating provider (when policy.DeleteArtifacts is
// set), then its metadata row.
func (c *Coordinator) enforceRetention(ctx context.Context, policy RetentionPolicy) error {
	manifests, err := c.metadata.List(ctx, 10000)
	if err != nil {
		return err
	}

	for _, id := range evaluateRetention(manifests, policy, time.Now().UTC()) {
		m, err := c.metadata.Get(ctx, id)
		if err != nil {
			continue
		}
		if policy.DeleteArtifacts {
			provider, err := c.providers.Get(m.StorageProvider)
			if err == nil {
				paths, _ := provider.List(ctx, id)
				for _, p := range paths {
					_ = provider.RemoveFile(ctx, p)
				}
			}
		}
		_ = c.metadata.Delete(ctx, id)
	}
	return nil
}
