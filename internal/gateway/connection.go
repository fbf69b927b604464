package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SkynetNext/game-server/internal/buffer"
)

var (
	// ErrMessageTooLarge is returned by ReceiveMessage when a message grows
	// past the configured limit. The connection is unusable afterwards.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")

	// ErrConnectionClosed is returned by Send after the connection closed
	ErrConnectionClosed = errors.New("connection closed")
)

// deadline for close frames and other control writes
const controlWriteWait = time.Second

// Connection is one upgraded websocket. Reads happen on the connection's own
// goroutine; Send may be called from any goroutine.
type Connection struct {
	id         uint64
	remoteAddr string
	ws         *websocket.Conn

	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize func() int64

	writeMu sync.Mutex
	open    atomic.Bool

	// first frame of the message last returned by ReceiveMessage
	readStart time.Time

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

type connOptions struct {
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize func() int64
}

func newConnection(id uint64, remoteAddr string, ws *websocket.Conn, opts connOptions) *Connection {
	c := &Connection{
		id:             id,
		remoteAddr:     remoteAddr,
		ws:             ws,
		readTimeout:    opts.readTimeout,
		writeTimeout:   opts.writeTimeout,
		maxMessageSize: opts.maxMessageSize,
	}
	c.open.Store(true)
	return c
}

// ID is unique per accepted connection
func (c *Connection) ID() uint64 { return c.id }

// RemoteAddr returns the peer address
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// IsOpen reports whether the connection can still carry messages
func (c *Connection) IsOpen() bool { return c.open.Load() }

// Send writes data as one text message. Writes are serialized, and each is
// bounded by ctx's deadline or the configured write timeout.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.open.Load() {
		return ErrConnectionClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	c.bytesOut.Add(int64(len(data)))
	return nil
}

// ReceiveMessage blocks until one complete message has been reassembled from
// its frames. It returns io.EOF once the peer sent a close frame (the close
// reply is written by the websocket layer) and ErrMessageTooLarge when the
// message outgrows the limit, in which case a "message too big" close frame
// has already been sent.
func (c *Connection) ReceiveMessage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.ws.SetReadLimit(c.maxMessageSize())

	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return nil, c.readError(ctx, err)
	}
	// cancellation may have fired its deadline before we overwrote it
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, r, err := c.ws.NextReader()
	if err != nil {
		return nil, c.readError(ctx, err)
	}
	c.readStart = time.Now()

	buf := buffer.Get()
	defer buffer.Put(buf)

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, c.readError(ctx, err)
	}
	c.bytesIn.Add(int64(buf.Len()))
	return bytes.Clone(buf.Bytes()), nil
}

func (c *Connection) readError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.open.Store(false)
		return ErrMessageTooLarge
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.open.Store(false)
		return io.EOF
	case ctx.Err() != nil:
		return ctx.Err()
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		c.open.Store(false)
		return fmt.Errorf("peer closed connection: %w", err)
	}
	c.open.Store(false)
	return fmt.Errorf("read message: %w", err)
}

// Close sends a close frame with code and reason, then closes the socket.
// Only the first call writes the close frame.
func (c *Connection) Close(code int, reason string) error {
	if c.open.CompareAndSwap(true, false) {
		msg := websocket.FormatCloseMessage(code, reason)
		// best effort; the peer may already be gone
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
	}
	return c.ws.Close()
}
