// Package learning implements the feedback loop: an append-only usage
// event log, a triplet miner over it, a trainer client that produces
// adapter runs, and an explicit promote step gated on evaluation
// metrics. Nothing here mutates the served reranker directly; the
// reranker picks up a promoted adapter through its file watcher.
package learning

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// Event kinds. A search event records the query and its ranked
// results; feedback and click events reference one of those results.
const (
	EventSearch   = "search"
	EventFeedback = "feedback"
	EventClick    = "click"
)

// Event is one usage log record.
type Event struct {
	ID       string    `json:"event_id"`
	Kind     string    `json:"kind"`
	Time     time.Time `json:"time"`
	CorpusID string    `json:"corpus_id,omitempty"`

	// Query is set on every kind; feedback and click events join to
	// their search event through it.
	Query string `json:"query"`

	// TopChunks is the ranked result list of a search event.
	TopChunks []string `json:"top_chunks,omitempty"`

	// ChunkID is the subject of a feedback or click event.
	ChunkID string `json:"chunk_id,omitempty"`

	// Helpful carries explicit feedback polarity. Nil on non-feedback
	// events.
	Helpful *bool `json:"helpful,omitempty"`
}

// EventLog is the durable append-only usage log. Records are one JSON
// object per line; appends are serialized and flushed before Append
// returns, so a crash loses at most the record being written.
type EventLog struct {
	path string

	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	closed bool
}

// OpenEventLog opens (creating if needed) the log at path.
func OpenEventLog(path string) (*EventLog, error) {
	if path == "" {
		return nil, apperrors.New(apperrors.KindConfig, "event log path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "create event log directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "open event log", err)
	}
	return &EventLog{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one event. A missing ID or timestamp is filled in; the
// kind and query are required.
func (l *EventLog) Append(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch ev.Kind {
	case EventSearch, EventFeedback, EventClick:
	default:
		return apperrors.Newf(apperrors.KindInvalidInput, "unknown event kind %q", ev.Kind)
	}
	if strings.TrimSpace(ev.Query) == "" {
		return apperrors.New(apperrors.KindInvalidInput, "event query must not be empty")
	}
	if ev.Kind != EventSearch && ev.ChunkID == "" {
		return apperrors.Newf(apperrors.KindInvalidInput, "%s event requires a chunk id", ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encode event", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return apperrors.New(apperrors.KindInternal, "event log is closed")
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "append event", err)
	}
	return l.w.Flush()
}

// Path returns the log file location.
func (l *EventLog) Path() string { return l.path }

// Close flushes and closes the log.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// ReadEvents reads every well-formed event from the log at path. Lines
// that fail to decode are skipped rather than failing the read; a log
// survives a torn final write. A missing file reads as empty.
func ReadEvents(ctx context.Context, path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "open event log", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "read event log", err)
	}
	return events, nil
}
