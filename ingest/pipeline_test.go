package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccepts_EmptyFiltersAcceptEverything(t *testing.T) {
	p := &Pipeline{}
	assert.True(t, p.accepts("any/path.go"))
}

func TestAccepts_AcceptGlobMatch(t *testing.T) {
	p := &Pipeline{cfg: Config{FileAccept: []string{"*.go"}}}
	assert.True(t, p.accepts("main.go"))
}

func TestAccepts_AcceptGlobNoMatchRejects(t *testing.T) {
	p := &Pipeline{cfg: Config{FileAccept: []string{"*.go"}}}
	assert.False(t, p.accepts("main.py"))
}

func TestAccepts_AcceptSubstringMatch(t *testing.T) {
	p := &Pipeline{cfg: Config{FileAccept: []string{"internal/"}}}
	assert.True(t, p.accepts("internal/pkg/file.go"))
}

func TestAccepts_RejectGlobWinsOverAccept(t *testing.T) {
	p := &Pipeline{cfg: Config{FileAccept: []string{"*.go"}, FileReject: []string{"*_test.go"}}}
	assert.False(t, p.accepts("main_test.go"))
}

func TestAccepts_RejectOnlyFiltersAppliedWithoutAcceptList(t *testing.T) {
	p := &Pipeline{cfg: Config{FileReject: []string{"vendor/"}}}
	assert.True(t, p.accepts("src/main.go"))
	assert.False(t, p.accepts("vendor/lib/file.go"))
}

func TestDefaultConfig_ProducesValidSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.Queue.Partitions)
	assert.Equal(t, 100, cfg.QuarantineSize)
	assert.Equal(t, 2, cfg.Workers.Parsers.Min)
	assert.Equal(t, 8, cfg.Workers.Parsers.Max)
}
