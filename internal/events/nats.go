package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/circuitbreaker"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/metrics"
)

// NATSOptions configures NewNATS
type NATSOptions struct {
	URL            string
	SubjectPrefix  string
	MaxFailures    int64
	BreakerTimeout time.Duration
}

// NATS publishes events on core NATS subjects "<prefix>.<kind>", behind a
// circuit breaker so an unreachable server costs nothing per event
type NATS struct {
	conn    *nats.Conn
	publish func(subject string, data []byte) error
	prefix  string
	breaker *circuitbreaker.Breaker
}

// NewNATS connects to the NATS server with unlimited reconnects
func NewNATS(opts NATSOptions) (*NATS, error) {
	conn, err := nats.Connect(
		opts.URL,
		nats.Name("game-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.L.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.L.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	p := newPublisher(conn.Publish, opts)
	p.conn = conn
	return p, nil
}

func newPublisher(publish func(string, []byte) error, opts NATSOptions) *NATS {
	breaker := circuitbreaker.NewBreaker(opts.MaxFailures, opts.BreakerTimeout)
	breaker.OnStateChange(func(s circuitbreaker.State) {
		metrics.EventsBreakerState.Set(float64(s))
		logger.L.Info("event publisher breaker state changed", zap.String("state", s.String()))
	})
	return &NATS{
		publish: publish,
		prefix:  opts.SubjectPrefix,
		breaker: breaker,
	}
}

// Subject returns the subject an event of kind is published on
func (n *NATS) Subject(kind string) string {
	return n.prefix + "." + kind
}

// Publish encodes evt as JSON and publishes it. Failures are counted and logged.
func (n *NATS) Publish(ctx context.Context, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		logger.L.Error("failed to encode event", zap.String("kind", evt.Kind), zap.Error(err))
		return
	}

	err = n.breaker.Execute(func() error {
		return n.publish(n.Subject(evt.Kind), data)
	})
	switch {
	case err == nil:
		metrics.EventsPublished.WithLabelValues("ok").Inc()
	case err == circuitbreaker.ErrOpen:
		metrics.EventsPublished.WithLabelValues("dropped").Inc()
	default:
		metrics.EventsPublished.WithLabelValues("error").Inc()
		logger.L.Warn("failed to publish event", logger.WithTrace(ctx,
			zap.String("kind", evt.Kind),
			zap.Error(err),
		)...)
	}
}

// Close flushes buffered events and closes the connection
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
