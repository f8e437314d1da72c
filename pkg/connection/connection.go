// Package connection speaks the SurrealDB RPC protocol.
//
// A Connection sends CBOR encoded requests and matches responses to them by
// request id. The gorillaws and gws subpackages provide WebSocket transports.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/embedpop/embedpop/internal/codec"
	"github.com/embedpop/embedpop/pkg/constants"
)

type Connection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// Send returns the raw response. Callers normally use the generic Send helper.
	Send(ctx context.Context, method string, params ...any) (*RPCResponse[cbor.RawMessage], error)
	Use(ctx context.Context, namespace, database string) error
	Let(ctx context.Context, key string, value any) error
	Unset(ctx context.Context, key string) error
	SignIn(ctx context.Context, authData any) (string, error)
	Authenticate(ctx context.Context, token string) error
	GetUnmarshaler() codec.Unmarshaler
}

// Toolkit holds what every transport needs: the codec and the table of
// requests waiting for a response.
type Toolkit struct {
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	ResponseChannels     map[string]chan RPCResponse[cbor.RawMessage]
	ResponseChannelsLock sync.RWMutex
}

func (tk *Toolkit) CreateResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], error) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()

	if _, ok := tk.ResponseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	ch := make(chan RPCResponse[cbor.RawMessage], 1)
	tk.ResponseChannels[id] = ch

	return ch, nil
}

func (tk *Toolkit) RemoveResponseChannel(id string) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()
	delete(tk.ResponseChannels, id)
}

func (tk *Toolkit) GetResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], bool) {
	tk.ResponseChannelsLock.RLock()
	defer tk.ResponseChannelsLock.RUnlock()
	ch, ok := tk.ResponseChannels[id]
	return ch, ok
}

func (tk *Toolkit) PreConnectionChecks() error {
	if tk.BaseURL == "" {
		return constants.ErrNoBaseURL
	}

	if tk.Marshaler == nil {
		return constants.ErrNoMarshaler
	}

	if tk.Unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}

	return nil
}
