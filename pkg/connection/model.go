package connection

import "fmt"

// RPCError represents a SurrealDB RPC error
type RPCError struct {
	Code        int    `json:"code"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
}

func (r RPCError) Error() string {
	if r.Description != "" {
		return r.Description
	}
	return r.Message
}

func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}

	_, ok := target.(*RPCError)
	return ok
}

// RPCRequest represents an outgoing RPC request
type RPCRequest struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
}

// RPCResponse represents an incoming RPC response
type RPCResponse[T any] struct {
	ID     any       `json:"id"`
	Error  *RPCError `json:"error,omitempty"`
	Result *T        `json:"result,omitempty"`
}

// QueryResult is the result of one statement of a query call.
// When Status is "ERR", Result holds the error message.
type QueryResult[T any] struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Result T      `json:"result"`
}

// QueryError is returned for a statement that failed.
type QueryError struct {
	Statement int
	Message   string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("statement %d: %s", e.Statement, e.Message)
}

type RPCFunction string

const (
	MethodUse          RPCFunction = "use"
	MethodPing         RPCFunction = "ping"
	MethodVersion      RPCFunction = "version"
	MethodSignIn       RPCFunction = "signin"
	MethodAuthenticate RPCFunction = "authenticate"
	MethodInvalidate   RPCFunction = "invalidate"
	MethodLet          RPCFunction = "let"
	MethodUnset        RPCFunction = "unset"
	MethodQuery        RPCFunction = "query"
)
