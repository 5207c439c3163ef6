package retrieval

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QueryLogEntry is one line of the query log. Sources holds the cited URLs
// in citation order.
type QueryLogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	Query         string    `json:"query"`
	ContentType   string    `json:"content_type,omitempty"`
	Candidates    int       `json:"candidates"`
	TopScore      float64   `json:"top_score"`
	Confidence    string    `json:"confidence,omitempty"`
	Disclaimer    bool      `json:"disclaimer"`
	Sources       []string  `json:"sources,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	Error         string    `json:"error,omitempty"`
}

// QueryLogger appends JSON lines to a writer. It is safe for concurrent use.
type QueryLogger struct {
	mu  sync.Mutex
	enc *json.Encoder
	out io.Writer
	now func() time.Time
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{enc: json.NewEncoder(w), out: w, now: time.Now}
}

// OpenQueryLog appends to the file at path, creating it and its directory.
// Close the returned logger to release the file.
func OpenQueryLog(path string) (*QueryLogger, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config
	if err != nil {
		return nil, err
	}
	return NewQueryLogger(f), nil
}

// Log stamps the entry and writes it. start is when the query arrived.
func (l *QueryLogger) Log(entry QueryLogEntry, start time.Time) {
	entry.Timestamp = l.now().UTC()
	entry.LatencyMs = entry.Timestamp.Sub(start).Milliseconds()

	l.mu.Lock()
	err := l.enc.Encode(entry)
	l.mu.Unlock()
	if err != nil {
		slog.Error("failed to write query log entry", "error", err, "correlation_id", entry.CorrelationID)
	}
}

// Close closes the underlying writer when it is a file.
func (l *QueryLogger) Close() error {
	if f, ok := l.out.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}
