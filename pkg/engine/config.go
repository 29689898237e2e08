package engine

import (
	"os"
	"path/filepath"

	"github.com/mnohosten/forumidx/pkg/diagnostic"
	"github.com/mnohosten/forumidx/pkg/matrix"
	"github.com/mnohosten/forumidx/pkg/metrics"
)

const (
	sidecarFileName = "dictionary.sidecar"

	// DefaultMinFrequency is the default prune threshold: terms occurring
	// <= 5 times total are pruned.
	DefaultMinFrequency = 5

	// DefaultScoreFlushInterval is how many documents the scoring phase
	// accumulates before flushing a bulk score update.
	DefaultScoreFlushInterval = 10000

	// DefaultTermStartID is where term-id allocation begins; 0 matches
	// the Builder's document_id numbering, which also counts from 0.
	DefaultTermStartID uint32 = 0
)

// Config configures both a Builder and an Evaluator. WorkingDir holds all
// persistent state: the posting/document row-store files plus the
// dictionary sidecar.
type Config struct {
	WorkingDir string

	MinFrequency       int
	ScoreFlushInterval int
	TermStartID        uint32
	BufferPoolSize     int
	DocumentCacheLen   int

	Sink    *diagnostic.Sink
	Metrics *metrics.Collector
}

// DefaultConfig returns a Config with the documented CLI defaults, rooted
// at workingDir.
func DefaultConfig(workingDir string) Config {
	return Config{
		WorkingDir:         workingDir,
		MinFrequency:       DefaultMinFrequency,
		ScoreFlushInterval: DefaultScoreFlushInterval,
		TermStartID:        DefaultTermStartID,
		BufferPoolSize:     1000,
		DocumentCacheLen:   4096,
	}
}

func (c Config) sidecarPath() string {
	return filepath.Join(c.WorkingDir, sidecarFileName)
}

func (c Config) matrixConfig() matrix.Config {
	mc := matrix.DefaultConfig(c.WorkingDir)
	if c.BufferPoolSize > 0 {
		mc.BufferPoolSize = c.BufferPoolSize
	}
	if c.DocumentCacheLen > 0 {
		mc.DocumentCacheLen = c.DocumentCacheLen
	}
	return mc
}

func (c Config) sink() *diagnostic.Sink {
	if c.Sink != nil {
		return c.Sink
	}
	discarding := diagnostic.DefaultConfig()
	discarding.Enabled = false
	return diagnostic.NewSink(discarding)
}

// ValidateForBuild raises a ConfigurationFault for a missing working
// directory path, or (when force is false) a non-empty existing working
// directory, since a fresh build assumes it owns the directory outright.
func ValidateForBuild(cfg Config, force bool) error {
	if cfg.WorkingDir == "" {
		return NewFault(KindConfiguration, "working directory is required", nil)
	}
	entries, err := os.ReadDir(cfg.WorkingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewFault(KindConfiguration, "cannot inspect working directory", err)
	}
	if len(entries) > 0 && !force {
		return NewFault(KindConfiguration,
			"working directory "+cfg.WorkingDir+" is not empty; pass force to rebuild into it", nil)
	}
	return nil
}

// ValidateForQuery raises a ConfigurationFault if workingDir does not
// look like a previously sealed index (no sidecar file).
func ValidateForQuery(cfg Config) error {
	if cfg.WorkingDir == "" {
		return NewFault(KindConfiguration, "working directory is required", nil)
	}
	if _, err := os.Stat(cfg.sidecarPath()); err != nil {
		return NewFault(KindConfiguration, "no sealed index found in "+cfg.WorkingDir, err)
	}
	return nil
}
