// Package gws is a connection.Connection on the lxzan/gws WebSocket library.
//
// It is interchangeable with gorillaws. The SurrealDB store picks it with the
// transport=gws query parameter of the client URL.
package gws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"
	"github.com/lxzan/gws"

	"github.com/embedpop/embedpop/internal/codec"
	"github.com/embedpop/embedpop/pkg/connection"
	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/logger"
)

var _ connection.Connection = (*Connection)(nil)

type Connection struct {
	connection.Toolkit

	conn     *gws.Conn
	connLock sync.Mutex

	// Timeout bounds the wait for a response. Zero leaves the deadline to ctx.
	Timeout time.Duration

	// Compression asks the server for permessage-deflate.
	Compression bool

	logger logger.Logger

	connCloseCh    chan struct{}
	connCloseError error
	closeOnce      sync.Once
	closedLock     sync.RWMutex
}

type handler struct {
	gws.BuiltinEventHandler
	conn *Connection
}

func (h *handler) OnClose(_ *gws.Conn, err error) {
	if err == nil {
		err = constants.ErrClosed
	}
	h.conn.markClosed(err)
}

func (h *handler) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()
	h.conn.handleResponse(message.Bytes())
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
		Compression: true,
		logger:      l,
		connCloseCh: make(chan struct{}),
	}
}

// IsClosed reports whether the connection was closed, by Close or by the peer.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.connCloseCh:
		return true
	default:
		return false
	}
}

// SetTimeout sets the timeout for RPC responses.
func (c *Connection) SetTimeout(timeout time.Duration) *Connection {
	c.Timeout = timeout
	return c
}

func (c *Connection) Connect(ctx context.Context) error {
	if err := c.PreConnectionChecks(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	option := &gws.ClientOption{
		Addr: fmt.Sprintf("%s/rpc", c.BaseURL),
		RequestHeader: http.Header{
			"Sec-WebSocket-Protocol": []string{"cbor"},
		},
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: c.Compression,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		option.HandshakeTimeout = time.Until(deadline)
	}

	conn, res, err := gws.NewClient(&handler{conn: c}, option)
	if err != nil {
		return err
	}
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	go conn.ReadLoop()

	return nil
}

// Close sends a close frame and closes the socket.
func (c *Connection) Close(context.Context) error {
	c.markClosed(constants.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.conn
	c.conn = nil
	if conn == nil {
		return nil
	}

	conn.WriteClose(constants.CloseMessageCode, nil)
	return conn.NetConn().Close()
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

	responseChan, err := c.CreateResponseChannel(id)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(id)

	if err := c.write(&connection.RPCRequest{ID: id, Method: method, Params: params}); err != nil {
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
	if c.conn == nil {
		return constants.ErrClosed
	}
	return c.conn.WriteMessage(gws.OpcodeBinary, data)
}

func (c *Connection) markClosed(err error) {
	c.closeOnce.Do(func() {
		c.closedLock.Lock()
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

func (c *Connection) handleResponse(data []byte) {
	var res connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(data, &res); err != nil {
		c.logger.Error("undecodable response", "error", err)
		return
	}

	if res.ID == nil || res.ID == "" {
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
