package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/sentrycore/internal/observe"
)

// defaultQueueDepth bounds the background write queue. Once full, Log drops
// the event rather than blocking the caller — the spec requires hot-path
// writes to never block, and audit-write failure must never propagate.
const defaultQueueDepth = 256

// Logger is the append-only audit sink. It owns the underlying file and
// serializes writes through a single background goroutine so concurrent
// callers never need their own locking. Hot-path events are enqueued
// best-effort (see [Logger.Log]); [Logger.LogSync] blocks until the event
// is durably appended, for shutdown-path and revocation events.
type Logger struct {
	path string

	mu   sync.Mutex
	file *os.File

	queue chan logRequest
	done  chan struct{}

	metrics   atomic.Pointer[observe.Metrics]
	closeOnce sync.Once
}

// SetMetrics wires m into the logger so enqueue/dequeue transitions update
// the audit queue depth gauge. Safe to call once at startup before any
// Log/LogSync calls are made; nil is a valid no-op value.
func (l *Logger) SetMetrics(m *observe.Metrics) {
	l.metrics.Store(m)
}

type logRequest struct {
	event Event
	ack   chan error
}

// NewLogger opens (creating if necessary) the audit log file at path and
// starts the background writer goroutine.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}

	l := &Logger{
		path:  path,
		file:  f,
		queue: make(chan logRequest, defaultQueueDepth),
		done:  make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues event for asynchronous, best-effort persistence. If the
// internal queue is full the event is dropped and a warning is logged —
// this is the documented hot-path trade-off (spec §7 Audit-write: "Swallowed
// silently — best-effort on hot paths only").
func (l *Logger) Log(event Event) {
	select {
	case l.queue <- logRequest{event: event}:
		l.addQueueDepth(1)
	default:
		slog.Warn("audit: queue full, dropping event", "action", event.Action)
	}
}

// LogSync writes event and blocks until it has been appended to disk (or
// the logger has been closed). Used on cold/shutdown paths where the spec
// requires writes to be synchronous (e.g. RevokeAll, settings saved).
func (l *Logger) LogSync(event Event) error {
	ack := make(chan error, 1)
	select {
	case <-l.done:
		return fmt.Errorf("audit: logger closed")
	default:
	}
	select {
	case l.queue <- logRequest{event: event, ack: ack}:
		l.addQueueDepth(1)
	case <-l.done:
		return fmt.Errorf("audit: logger closed")
	}
	select {
	case err := <-ack:
		return err
	case <-l.done:
		return fmt.Errorf("audit: logger closed before ack")
	}
}

// run is the single background writer goroutine; it serializes all disk
// writes so callers never need their own lock (spec §5: "audit log is a
// shared sink with an internal serialization discipline").
func (l *Logger) run() {
	for req := range l.queue {
		err := l.append(req.event)
		l.addQueueDepth(-1)
		if err != nil {
			slog.Warn("audit: failed to write event", "action", req.event.Action, "err", err)
		}
		if req.ack != nil {
			req.ack <- err
		}
	}
}

// addQueueDepth records a change in the number of buffered-but-unflushed
// audit entries, if a [observe.Metrics] instance has been wired via
// [Logger.SetMetrics].
func (l *Logger) addQueueDepth(delta int64) {
	if m := l.metrics.Load(); m != nil {
		m.AuditQueueDepth.Add(context.Background(), delta)
	}
}

func (l *Logger) append(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return nil
}

// Close drains any queued events synchronously, closes the queue, and
// closes the underlying file. Safe to call multiple times.
func (l *Logger) Close() error {
	var closeErr error
	l.closeOnce.Do(func() {
		// Drain remaining queued entries synchronously before shutting the
		// writer goroutine down, per the spec's "writes on shutdown paths
		// are synchronous" rule.
		drained := false
		for !drained {
			select {
			case req := <-l.queue:
				err := l.append(req.event)
				l.addQueueDepth(-1)
				if req.ack != nil {
					req.ack <- err
				}
			default:
				drained = true
			}
		}
		close(l.queue)
		close(l.done)

		l.mu.Lock()
		closeErr = l.file.Close()
		l.mu.Unlock()
	})
	return closeErr
}

// TailScan returns up to n most recent events in file order (oldest of the
// returned slice first). It reads the file independently of the writer
// goroutine's buffered state, so it always reflects what has been durably
// appended.
func TailScan(path string, n int) ([]Event, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	defer f.Close()

	var all []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		all = append(all, ev)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("audit: scan %q: %w", path, err)
	}

	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}
