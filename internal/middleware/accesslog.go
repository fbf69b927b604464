package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/logger"
)

// Connection statuses reported in access log entries
const (
	StatusClosed   = "closed"
	StatusRejected = "rejected"
	StatusError    = "error"
	StatusTooLarge = "too_large"
)

// AccessLogEntry summarizes one websocket connection
type AccessLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	RemoteAddr string    `json:"remote_addr"`
	ConnID     uint64    `json:"conn_id,omitempty"`
	PlayerID   string    `json:"player_id,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Messages   int64     `json:"messages,omitempty"`
	Status     string    `json:"status"`
	BytesIn    int64     `json:"bytes_in,omitempty"`
	BytesOut   int64     `json:"bytes_out,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// AccessLogger batches access log entries off the connection goroutines
type AccessLogger struct {
	logChan       chan *AccessLogEntry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
}

var (
	globalAccessLogger atomic.Pointer[AccessLogger]
	once               sync.Once
)

// InitAccessLogger starts the global batcher. batchSize entries or
// flushInterval, whichever comes first, trigger a flush.
func InitAccessLogger(batchSize int, flushInterval time.Duration) {
	once.Do(func() {
		al := &AccessLogger{
			logChan:       make(chan *AccessLogEntry, batchSize*2),
			batchSize:     batchSize,
			flushInterval: flushInterval,
			stopChan:      make(chan struct{}),
		}
		al.start()
		globalAccessLogger.Store(al)
	})
}

// LogAccess records an entry without blocking. When the buffer is full the
// entry is dropped.
func LogAccess(ctx context.Context, entry *AccessLogEntry) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		entry.TraceID = span.SpanContext().TraceID().String()
		entry.SpanID = span.SpanContext().SpanID().String()
	}
	entry.Timestamp = time.Now()

	al := globalAccessLogger.Load()
	if al == nil || al.stopped() {
		writeEntry(entry)
		return
	}

	select {
	case al.logChan <- entry:
	default:
		logger.L.Warn("access log buffer full, dropping entry",
			zap.String("remote_addr", entry.RemoteAddr),
		)
	}
}

func writeEntry(entry *AccessLogEntry) {
	fields := []zap.Field{
		zap.String("remote_addr", entry.RemoteAddr),
		zap.Int64("duration_ms", entry.DurationMs),
		zap.String("status", entry.Status),
	}

	if entry.TraceID != "" {
		fields = append(fields, zap.String("trace_id", entry.TraceID))
	}
	if entry.SpanID != "" {
		fields = append(fields, zap.String("span_id", entry.SpanID))
	}
	if entry.ConnID != 0 {
		fields = append(fields, zap.Uint64("conn_id", entry.ConnID))
	}
	if entry.PlayerID != "" {
		fields = append(fields, zap.String("player_id", entry.PlayerID))
	}
	if entry.Messages > 0 {
		fields = append(fields, zap.Int64("messages", entry.Messages))
	}
	if entry.BytesIn > 0 {
		fields = append(fields, zap.Int64("bytes_in", entry.BytesIn))
	}
	if entry.BytesOut > 0 {
		fields = append(fields, zap.Int64("bytes_out", entry.BytesOut))
	}
	if entry.Error != "" {
		fields = append(fields, zap.String("error", entry.Error))
	}

	logger.L.Info("access_log", fields...)
}

func (al *AccessLogger) stopped() bool {
	select {
	case <-al.stopChan:
		return true
	default:
		return false
	}
}

func (al *AccessLogger) start() {
	al.wg.Add(1)
	go al.processBatches()
}

func (al *AccessLogger) processBatches() {
	defer al.wg.Done()

	batch := make([]*AccessLogEntry, 0, al.batchSize)
	ticker := time.NewTicker(al.flushInterval)
	defer ticker.Stop()

	flush := func() {
		for _, entry := range batch {
			writeEntry(entry)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-al.stopChan:
			// drain whatever is still queued
			for {
				select {
				case entry := <-al.logChan:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		case entry := <-al.logChan:
			batch = append(batch, entry)
			if len(batch) >= al.batchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		}
	}
}

// ShutdownAccessLogger flushes pending entries and stops the batcher. Later
// entries are written synchronously.
func ShutdownAccessLogger() {
	al := globalAccessLogger.Load()
	if al == nil {
		return
	}
	al.stopOnce.Do(func() {
		close(al.stopChan)
		al.wg.Wait()
	})
}
