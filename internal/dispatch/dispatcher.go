// Package dispatch routes inbound envelopes to handlers by message type.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/errs"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/metrics"
	"github.com/SkynetNext/game-server/internal/protocol"
	"github.com/SkynetNext/game-server/internal/session"
	"github.com/SkynetNext/game-server/internal/tracing"
)

// Handler processes one message payload for conn. A returned error is sent
// back to the client as an ERROR envelope.
type Handler interface {
	Handle(ctx context.Context, conn session.Conn, payload json.RawMessage) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, conn session.Conn, payload json.RawMessage) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, conn session.Conn, payload json.RawMessage) error {
	return f(ctx, conn, payload)
}

// label used for messages that never resolved to a registered type
const unroutedType = "unrouted"

// Dispatcher holds an immutable type -> handler table
type Dispatcher struct {
	handlers map[string]Handler
}

// New copies handlers into a new dispatcher. Lookups are exact and case-sensitive.
func New(handlers map[string]Handler) *Dispatcher {
	table := make(map[string]Handler, len(handlers))
	for msgType, h := range handlers {
		table[msgType] = h
	}
	return &Dispatcher{handlers: table}
}

// Types returns the registered message types
func (d *Dispatcher) Types() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch parses raw and runs the matching handler. Failures are written to
// conn as ERROR envelopes and never returned. The routed type (or
// "unrouted") is returned for metrics labelling.
func (d *Dispatcher) Dispatch(ctx context.Context, conn session.Conn, raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	env, err := protocol.Parse(raw)
	if err != nil {
		d.reply(ctx, conn, unroutedType, errs.New(errs.InvalidMessage, invalidMessageText(err)))
		return unroutedType
	}

	h, ok := d.handlers[env.Type]
	if !ok {
		d.reply(ctx, conn, unroutedType, errs.Newf(errs.UnknownType, "unknown message type: %s", env.Type))
		return unroutedType
	}

	ctx, span := tracing.StartSpan(ctx, "dispatch."+env.Type,
		attribute.String("message.type", env.Type),
		attribute.Int64("conn.id", int64(conn.ID())),
	)
	err = d.invoke(ctx, h, conn, env)
	tracing.EndSpan(span, err)

	metrics.MessagesProcessed.WithLabelValues(env.Type).Inc()
	if err != nil {
		d.reply(ctx, conn, env.Type, err)
	}
	return env.Type
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, conn session.Conn, env *protocol.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.L.Error("handler panic", logger.WithTrace(ctx,
				zap.String("type", env.Type),
				zap.Uint64("conn_id", conn.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)...)
			err = errs.New(errs.InternalError, "internal server error")
		}
	}()
	return h.Handle(ctx, conn, env.Payload)
}

func (d *Dispatcher) reply(ctx context.Context, conn session.Conn, msgType string, err error) {
	code := errs.CodeOf(err)
	metrics.MessageErrors.WithLabelValues(code).Inc()

	if code == errs.InternalError {
		logger.L.Error("message failed", logger.WithTrace(ctx,
			zap.String("type", msgType),
			zap.Uint64("conn_id", conn.ID()),
			zap.Error(err),
		)...)
	} else {
		logger.L.Debug("message rejected", logger.WithTrace(ctx,
			zap.String("type", msgType),
			zap.String("code", code),
		)...)
	}

	if sendErr := conn.Send(ctx, protocol.EncodeError(err)); sendErr != nil {
		logger.L.Debug("failed to send error response",
			zap.Uint64("conn_id", conn.ID()),
			zap.Error(sendErr),
		)
	}
}

func invalidMessageText(err error) string {
	if errors.Is(err, protocol.ErrEmptyType) {
		return "message type is required"
	}
	return fmt.Sprintf("malformed message: %v", err)
}
