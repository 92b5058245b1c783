package app

import (
	"context"

	"codegraphix.dev/engine/ingest"
)

// artifactSource is a single-shot ingest.ChangeSource: one Change is pushed
// onto it per Ingest call, then it reports drained forever after, mirroring
// how a CI webhook front-end would offer exactly one changed artifact per
// invocation rather than polling a live filesystem watcher.
type artifactSource struct {
	ch chan ingest.Change
}

func newArtifactSource() *artifactSource {
	return &artifactSource{ch: make(chan ingest.Change, 1)}
}

// push offers one Change to the pipeline's puller.
func (s *artifactSource) push(c ingest.Change) {
	s.ch <- c
}

func (s *artifactSource) Next(ctx context.Context) (ingest.Change, bool, error) {
	select {
	case c := <-s.ch:
		return c, true, nil
	case <-ctx.Done():
		return ingest.Change{}, false, ctx.Err()
	default:
		return ingest.Change{}, false, nil
	}
}
