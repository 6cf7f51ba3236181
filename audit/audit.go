// Package audit is the append-only audit ledger: one JSON object per
// line written to a flat file, independent of the SQLite-backed
// Working Store and Version-Control Engine.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Entry is one audited call: who did what to which path, whether it
// succeeded, and any free-form metadata the caller wants attached.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	User      string            `json:"user"`
	Action    string            `json:"action"`
	Path      string            `json:"path"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Logger appends audit entries to a JSONL file. A single Logger is
// safe for concurrent use; writes are serialized by mu.
type Logger struct {
	path     string
	enabled  bool
	logReads bool
	log      *logrus.Logger
	mu       sync.Mutex
	file     *os.File
}

// Option configures a Logger.
type Option func(*Logger)

// WithLogReads controls whether read-only actions (get, list, history,
// status, diff) are appended to the ledger. Disabled by default, as
// in the original AuditConfig.log_reads default.
func WithLogReads(logReads bool) Option {
	return func(l *Logger) { l.logReads = logReads }
}

// WithLogrus swaps in a caller-supplied logrus.Logger for the
// write-failure warning path, instead of logrus.StandardLogger().
func WithLogrus(log *logrus.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// New opens (creating if necessary) the JSONL file at path. When
// enabled is false, Log is a no-op and the file is never opened.
func New(path string, enabled bool, opts ...Option) (*Logger, error) {
	l := &Logger{path: path, enabled: enabled, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(l)
	}

	if !enabled {
		return l, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	l.file = file
	return l, nil
}

// Close releases the underlying file handle, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// IsRead reports whether action names a read-only operation subject
// to the log_reads gate rather than the always-logged write path.
func IsRead(action string) bool {
	switch action {
	case "get", "list", "history", "metadata", "status", "diff", "list_branches", "get_branch", "commit_history":
		return true
	default:
		return false
	}
}

// Log records one audited call. Entries for read actions are dropped
// unless log_reads is enabled. A write failure to the ledger file is
// swallowed — it must never fail the caller's underlying operation —
// and reported only via a logrus warning.
func (l *Logger) Log(user, action, path string, success bool, causeErr error, metadata map[string]string) {
	if l == nil || !l.enabled {
		return
	}
	if IsRead(action) && !l.logReads {
		return
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		User:      user,
		Action:    action,
		Path:      path,
		Success:   success,
		Metadata:  metadata,
	}
	if causeErr != nil {
		entry.Error = causeErr.Error()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		l.log.WithField("error", err).Warn("failed to marshal audit entry")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(raw, '\n')); err != nil {
		l.log.WithFields(logrus.Fields{
			"error":  err,
			"action": action,
			"path":   path,
		}).Warn("failed to write audit entry")
	}
}
