// Package diagnostic provides a structured event sink for build and query
// activity. There is deliberately no package-level global logger: every
// component that wants to emit diagnostics takes a *Sink explicitly, so
// two engines in the same process can write to separate outputs.
package diagnostic

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity orders events. Three levels cover everything diagnostics emit.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Kind identifies what an Event reports on.
type Kind string

const (
	KindBuildPhase     Kind = "build_phase"
	KindQuery          Kind = "query"
	KindConfiguration  Kind = "configuration_fault"
	KindStorage        Kind = "storage_fault"
	KindContract       Kind = "contract_violation"
	KindQueryWarning   Kind = "query_warning"
)

// Event is one structured diagnostic record. Fields unused by a given Kind
// are left zero; Details carries anything kind-specific rather than growing
// the struct per event type.
type Event struct {
	Timestamp    time.Time              `json:"timestamp"`
	BuildID      uuid.UUID              `json:"build_id,omitempty"`
	Kind         Kind                   `json:"kind"`
	Severity     Severity               `json:"severity"`
	Phase        string                 `json:"phase,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Duration     time.Duration          `json:"duration_ns,omitempty"`
	Query        string                 `json:"query,omitempty"`
	ResultCount  int                    `json:"result_count,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Config controls what a Sink emits and how.
type Config struct {
	Enabled      bool
	OutputWriter io.Writer
	Format       string // "json" or "text"
	MinSeverity  Severity
	MaxFieldSize int
}

// DefaultConfig returns a Config writing JSON events to stderr at Info and
// above.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		OutputWriter: os.Stderr,
		Format:       "json",
		MinSeverity:  SeverityInfo,
		MaxFieldSize: 1024,
	}
}

// Sink emits Events to a configured writer. It carries no package-level
// state; callers construct one per engine instance and pass it to whatever
// needs to emit diagnostics.
type Sink struct {
	mu      sync.Mutex
	config  Config
	closer  io.Closer
	buildID uuid.UUID
}

// NewSink creates a Sink writing to config.OutputWriter. If OutputWriter is
// nil, it defaults to os.Stderr.
func NewSink(config Config) *Sink {
	if config.OutputWriter == nil {
		config.OutputWriter = os.Stderr
	}
	if config.MaxFieldSize <= 0 {
		config.MaxFieldSize = 1024
	}
	return &Sink{config: config}
}

// NewFileSink creates a Sink that writes events to the named file,
// truncating any existing contents, and closes the file on Close.
func NewFileSink(path string, config Config) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("diagnostic: open sink file: %w", err)
	}
	config.OutputWriter = f
	s := NewSink(config)
	s.closer = f
	return s, nil
}

// SetBuildID stamps every subsequent event with buildID, letting repeated
// builds into the same working directory (or a build versus a later
// query-only reopen) be told apart in the emitted stream.
func (s *Sink) SetBuildID(buildID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildID = buildID
}

// Emit writes an event, subject to the Enabled flag and MinSeverity filter.
func (s *Sink) Emit(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.Enabled {
		return nil
	}
	if event.Severity < s.config.MinSeverity {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.BuildID == uuid.Nil {
		event.BuildID = s.buildID
	}
	s.truncateDetails(event)

	if s.config.Format == "text" {
		_, err := fmt.Fprintln(s.config.OutputWriter, s.formatText(event))
		return err
	}

	enc := json.NewEncoder(s.config.OutputWriter)
	return enc.Encode(event)
}

func (s *Sink) truncateDetails(event *Event) {
	if event.Details == nil {
		return
	}
	for k, v := range event.Details {
		if str, ok := v.(string); ok && len(str) > s.config.MaxFieldSize {
			event.Details[k] = str[:s.config.MaxFieldSize] + "...(truncated)"
		}
	}
}

func (s *Sink) formatText(event *Event) string {
	status := "OK"
	if !event.Success {
		status = "FAIL"
	}
	line := fmt.Sprintf("[%s] %s %-16s %-5s",
		event.Timestamp.Format(time.RFC3339), status, event.Kind, event.Severity)
	if event.Phase != "" {
		line += fmt.Sprintf(" phase=%s", event.Phase)
	}
	if event.Duration > 0 {
		line += fmt.Sprintf(" duration=%s", event.Duration)
	}
	if event.Query != "" {
		line += fmt.Sprintf(" query=%q", event.Query)
	}
	if event.ResultCount > 0 {
		line += fmt.Sprintf(" results=%d", event.ResultCount)
	}
	if event.ErrorMessage != "" {
		line += fmt.Sprintf(" error=%q", event.ErrorMessage)
	}
	return line
}

// LogBuildPhase records completion (or failure) of one build phase.
func (s *Sink) LogBuildPhase(phase string, d time.Duration, err error) error {
	event := &Event{
		Kind:     KindBuildPhase,
		Phase:    phase,
		Success:  err == nil,
		Duration: d,
		Severity: SeverityInfo,
	}
	if err != nil {
		event.Severity = SeverityError
		event.ErrorMessage = err.Error()
	}
	return s.Emit(event)
}

// LogQuery records one evaluated query.
func (s *Sink) LogQuery(query string, d time.Duration, resultCount int, err error) error {
	event := &Event{
		Kind:        KindQuery,
		Query:       query,
		Duration:    d,
		ResultCount: resultCount,
		Success:     err == nil,
		Severity:    SeverityInfo,
	}
	if err != nil {
		event.Severity = SeverityError
		event.ErrorMessage = err.Error()
	}
	return s.Emit(event)
}

// LogQueryWarning records a non-fatal condition absorbed during query
// evaluation (e.g. every query term was unknown to the dictionary).
func (s *Sink) LogQueryWarning(query string, message string, details map[string]interface{}) error {
	return s.Emit(&Event{
		Kind:         KindQueryWarning,
		Query:        query,
		Success:      true,
		Severity:     SeverityWarning,
		ErrorMessage: message,
		Details:      details,
	})
}

// LogFault records a ConfigurationFault, StorageFault, or ContractViolation.
// kind must be one of KindConfiguration, KindStorage, or KindContract.
func (s *Sink) LogFault(kind Kind, err error, details map[string]interface{}) error {
	return s.Emit(&Event{
		Kind:         kind,
		Success:      false,
		Severity:     SeverityError,
		ErrorMessage: err.Error(),
		Details:      details,
	})
}

// SetEnabled toggles emission without discarding the Sink's configuration.
func (s *Sink) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Enabled = enabled
}

// IsEnabled reports whether the sink currently emits events.
func (s *Sink) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Enabled
}

// Close releases any file handle opened by NewFileSink. It is a no-op for
// sinks constructed with NewSink against a caller-owned writer.
func (s *Sink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Noop returns a Sink that discards every event, for callers that want a
// non-nil Sink without configuring output (tests, or diagnostics disabled
// by configuration).
func Noop() *Sink {
	return NewSink(Config{Enabled: false})
}
