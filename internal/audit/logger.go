package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/userhub/userhub/internal/platform/database"
	"github.com/userhub/userhub/internal/platform/middleware"
)

const (
	defaultBufferSize    = 4096
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
)

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func (c LoggerConfig) withDefaults() LoggerConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Stats counts the fate of events handed to an AsyncLogger.
type Stats struct {
	Written int64 // inserted into the store
	Dropped int64 // refused because the buffer was full or the logger closed
	Failed  int64 // lost to a failed insert
}

// AsyncLogger implements Logger with a bounded queue drained by one writer
// goroutine in batches. Log never blocks the request path.
type AsyncLogger struct {
	queue chan Event
	store *Store
	db    database.Querier
	cfg   LoggerConfig

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewAsyncLogger creates an async audit logger and starts its writer.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig) *AsyncLogger {
	cfg = cfg.withDefaults()
	l := &AsyncLogger{
		queue: make(chan Event, cfg.BufferSize),
		store: store,
		db:    db,
		cfg:   cfg,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues event, tagging it with the request id carried by ctx.
// Events are dropped when the queue is full or the logger is closed.
func (l *AsyncLogger) Log(ctx context.Context, event Event) {
	select {
	case <-l.stop:
		l.dropped.Add(1)
		return
	default:
	}

	event = withRequestID(ctx, event)
	select {
	case l.queue <- event:
	default:
		l.dropped.Add(1)
		l.cfg.Logger.WarnContext(ctx, "audit queue full, dropping event", "action", event.Action)
	}
}

// withRequestID copies the request id from ctx into the event metadata
// unless the caller already set one. The caller's map is not modified.
func withRequestID(ctx context.Context, event Event) Event {
	id := middleware.GetRequestID(ctx)
	if id == "" {
		return event
	}
	if _, ok := event.Metadata[MetadataRequestID]; ok {
		return event
	}
	metadata := make(map[string]any, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	metadata[MetadataRequestID] = id
	event.Metadata = metadata
	return event
}

func (l *AsyncLogger) Stats() Stats {
	return Stats{
		Written: l.written.Load(),
		Dropped: l.dropped.Load(),
		Failed:  l.failed.Load(),
	}
}

// Close writes everything still queued and stops the writer. It is safe to
// call more than once.
func (l *AsyncLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
		<-l.done
	})
	return nil
}

func (l *AsyncLogger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]Event, 0, l.cfg.BatchSize)
	for {
		select {
		case <-l.stop:
			l.write(append(pending, l.drain()...))
			return

		case e := <-l.queue:
			pending = append(pending, e)
			if len(pending) >= l.cfg.BatchSize {
				l.write(pending)
				pending = pending[:0]
			}

		case <-ticker.C:
			l.write(pending)
			pending = pending[:0]
		}
	}
}

// write inserts events in chunks of at most BatchSize rows so a large final
// drain stays under the statement parameter limit.
func (l *AsyncLogger) write(events []Event) {
	for len(events) > 0 {
		n := min(len(events), l.cfg.BatchSize)
		l.insert(events[:n])
		events = events[n:]
	}
}

func (l *AsyncLogger) insert(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.InsertBatch(ctx, l.db, batch); err != nil {
		l.failed.Add(int64(len(batch)))
		l.cfg.Logger.Error("audit flush failed", "error", err, "count", len(batch))
		return
	}
	l.written.Add(int64(len(batch)))
}

func (l *AsyncLogger) drain() []Event {
	var events []Event
	for {
		select {
		case e := <-l.queue:
			events = append(events, e)
		default:
			return events
		}
	}
}
