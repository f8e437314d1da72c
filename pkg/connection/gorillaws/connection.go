package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"
	gorilla "github.com/gorilla/websocket"

	"github.com/embedpop/embedpop/internal/codec"
	"github.com/embedpop/embedpop/pkg/connection"
	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/logger"
)

var _ connection.Connection = (*Connection)(nil)

// DefaultDialer is gorilla's default dialer with compression enabled and the
// cbor subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type Option func(ws *Connection) error

type Connection struct {
	connection.Toolkit

	Conn *gorilla.Conn
	// connLock guards Conn for reads and writes after a successful connect.
	connLock sync.Mutex

	// Timeout bounds the wait for a response once the request is written.
	// Zero disables it and leaves the deadline to ctx.
	Timeout time.Duration

	Option []Option
	logger logger.Logger

	// connCloseCh is closed when the connection goes away, stopping readLoop
	// and failing pending Sends.
	connCloseCh    chan struct{}
	connCloseError error
	closeOnce      sync.Once

	closedLock sync.RWMutex
	closed     bool
}

func New(p *connection.Config) *Connection {
	l := p.Logger
	if l == nil {
		l = logger.Nop()
	}
	return &Connection{
		Toolkit: connection.Toolkit{
			BaseURL:          p.BaseURL,
			Marshaler:        p.Marshaler,
			Unmarshaler:      p.Unmarshaler,
			ResponseChannels: make(map[string]chan connection.RPCResponse[cbor.RawMessage]),
		},
		Timeout:     constants.DefaultWSTimeout,
		logger:      l,
		connCloseCh: make(chan struct{}),
	}
}

// IsClosed reports whether the connection was closed, by Close or by the peer.
// A closed Connection cannot be reused.
func (c *Connection) IsClosed() bool {
	c.closedLock.RLock()
	defer c.closedLock.RUnlock()
	return c.closed
}

func (c *Connection) Connect(ctx context.Context) error {
	if err := c.PreConnectionChecks(); err != nil {
		return err
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/rpc", c.BaseURL), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	c.Conn = conn

	for _, option := range c.Option {
		if err := option(c); err != nil {
			return err
		}
	}

	go c.readLoop(conn)

	return nil
}

func (c *Connection) SetTimeOut(timeout time.Duration) *Connection {
	c.Option = append(c.Option, func(ws *Connection) error {
		ws.Timeout = timeout
		return nil
	})
	return c
}

func (c *Connection) Logger(l logger.Logger) *Connection {
	c.logger = l
	return c
}

func (c *Connection) SetCompression(compress bool) *Connection {
	c.Option = append(c.Option, func(ws *Connection) error {
		ws.Conn.EnableWriteCompression(compress)
		return nil
	})
	return c
}

// Close sends a close frame, bounded by ctx's deadline, then closes the
// socket. The socket is closed even when the close frame cannot be written.
func (c *Connection) Close(ctx context.Context) error {
	c.markClosed(constants.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.Conn
	c.Conn = nil
	if conn == nil {
		return nil
	}

	writeErr := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetWriteDeadline(deadline)
		}
		writeErr <- conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	return conn.Close()
}

func (c *Connection) Use(ctx context.Context, namespace, database string) error {
	return connection.Send[any](ctx, c, nil, string(connection.MethodUse), namespace, database)
}

func (c *Connection) Let(ctx context.Context, key string, value any) error {
	return connection.Send[any](ctx, c, nil, string(connection.MethodLet), key, value)
}

func (c *Connection) Unset(ctx context.Context, key string) error {
	return connection.Send[any](ctx, c, nil, string(connection.MethodUnset), key)
}

func (c *Connection) SignIn(ctx context.Context, authData any) (string, error) {
	return connection.SignIn(ctx, c, authData)
}

func (c *Connection) Authenticate(ctx context.Context, token string) error {
	return connection.Authenticate(ctx, c, token)
}

func (c *Connection) GetUnmarshaler() codec.Unmarshaler {
	return c.Unmarshaler
}

// Send writes a request and waits for the response with the same id.
// ctx is wrapped with Timeout when it is set; running out of time returns
// constants.ErrTimeout.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	select {
	case <-c.connCloseCh:
		return nil, c.closeError()
	case <-ctx.Done():
		return nil, ctxError(ctx)
	default:
	}

	reqID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("request id: %w", err)
	}
	id := reqID.String()
	request := &connection.RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}

	responseChan, err := c.CreateResponseChannel(id)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(id)

	if err := c.write(request); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctxError(ctx)
	case <-c.connCloseCh:
		return nil, c.closeError()
	case res := <-responseChan:
		if res.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, res.Error)
		}
		return &res, nil
	}
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", constants.ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}

func (c *Connection) write(v any) error {
	data, err := c.Marshaler.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.Conn == nil {
		return constants.ErrClosed
	}
	err = c.Conn.WriteMessage(gorilla.BinaryMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		c.markClosed(err)
	}
	return err
}

func (c *Connection) markClosed(err error) {
	c.closeOnce.Do(func() {
		c.closedLock.Lock()
		c.closed = true
		c.connCloseError = err
		c.closedLock.Unlock()
		close(c.connCloseCh)
	})
}

func (c *Connection) closeError() error {
	c.closedLock.RLock()
	defer c.closedLock.RUnlock()
	if c.connCloseError == nil {
		return constants.ErrClosed
	}
	return c.connCloseError
}

// readLoop runs until the first read error. gorilla connections do not
// recover from read errors, so every error closes the Connection.
func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleError(err)
			return
		}
		c.handleResponse(data)
	}
}

func (c *Connection) handleError(err error) {
	if c.IsClosed() {
		return
	}
	switch {
	case errors.Is(err, net.ErrClosed):
		c.markClosed(net.ErrClosed)
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure), gorilla.IsUnexpectedCloseError(err):
		c.markClosed(io.ErrClosedPipe)
	default:
		c.logger.Error("read failed", "error", err)
		c.markClosed(err)
	}
}

func (c *Connection) handleResponse(data []byte) {
	var res connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(data, &res); err != nil {
		c.logger.Error("undecodable response", "error", err)
		return
	}

	if res.ID == nil || res.ID == "" {
		// Some errors come back without an id; the pending Send will time out.
		if res.Error != nil {
			c.logger.Error("error in response without id", "error", res.Error.Error())
		}
		return
	}

	responseChan, ok := c.GetResponseChannel(fmt.Sprintf("%v", res.ID))
	if !ok {
		c.logger.Warn("no pending request for response", "id", fmt.Sprint(res.ID))
		return
	}
	responseChan <- res
}
