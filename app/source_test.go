package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"codegraphix.dev/engine/ingest"
)

func TestArtifactSource_NextWithoutPushReturnsNotOK(t *testing.T) {
	s := newArtifactSource()
	_, ok, err := s.Next(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestArtifactSource_NextReturnsPushedChange(t *testing.T) {
	s := newArtifactSource()
	s.push(ingest.Change{Path: "artifact.json", Fingerprint: "artifact.json"})

	change, ok, err := s.Next(context.Background())
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "artifact.json", change.Path)
}

func TestArtifactSource_DrainsAfterOnePush(t *testing.T) {
	s := newArtifactSource()
	s.push(ingest.Change{Path: "artifact.json"})

	_, ok, _ := s.Next(context.Background())
	assert.True(t, ok)

	_, ok, _ = s.Next(context.Background())
	assert.False(t, ok, "a single-shot source must report drained after its one change is taken")
}

func TestArtifactSource_NextOnCancelledContextWithNoChangeReturnsNotOK(t *testing.T) {
	s := newArtifactSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// With nothing pushed, Next returns ok=false whether select picks the
	// ctx.Done or default branch.
	_, ok, _ := s.Next(ctx)
	assert.False(t, ok)
}
