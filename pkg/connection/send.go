package connection

import (
	"context"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

type rawResult = cbor.RawMessage

func Send[Result any](ctx context.Context, c Connection, res *RPCResponse[Result], method string, params ...any) error {
	rawRes, err := c.Send(ctx, method, params...)
	if err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	if rawRes.ID != nil {
		res.ID = rawRes.ID
	}
	res.Error = rawRes.Error

	if rawRes.Result == nil {
		res.Result = nil
		return nil
	}

	var r Result
	if err := c.GetUnmarshaler().Unmarshal(*rawRes.Result, &r); err != nil {
		return fmt.Errorf("send %s: error unmarshaling result: %w", method, err)
	}

	res.Result = &r
	return nil
}

// SignIn returns the session token.
func SignIn(ctx context.Context, c Connection, authData any) (string, error) {
	var token RPCResponse[string]
	if err := Send(ctx, c, &token, string(MethodSignIn), authData); err != nil {
		return "", err
	}
	if token.Result == nil {
		return "", nil
	}
	return *token.Result, nil
}

func Authenticate(ctx context.Context, c Connection, token string) error {
	return Send[any](ctx, c, nil, string(MethodAuthenticate), token)
}

func Invalidate(ctx context.Context, c Connection) error {
	return Send[any](ctx, c, nil, string(MethodInvalidate))
}

// RunQuery runs one or more statements and returns a result per statement.
// The first failed statement is returned as a *QueryError.
func RunQuery[T any](ctx context.Context, c Connection, sql string, vars map[string]any) ([]QueryResult[T], error) {
	var raw RPCResponse[[]QueryResult[rawResult]]
	if err := Send(ctx, c, &raw, string(MethodQuery), sql, vars); err != nil {
		return nil, err
	}
	if raw.Result == nil {
		return nil, nil
	}

	out := make([]QueryResult[T], 0, len(*raw.Result))
	for i, stmt := range *raw.Result {
		if strings.EqualFold(stmt.Status, "ERR") {
			var msg string
			_ = c.GetUnmarshaler().Unmarshal(stmt.Result, &msg)
			return nil, &QueryError{Statement: i, Message: msg}
		}

		res := QueryResult[T]{Status: stmt.Status, Time: stmt.Time}
		if len(stmt.Result) > 0 {
			if err := c.GetUnmarshaler().Unmarshal(stmt.Result, &res.Result); err != nil {
				return nil, fmt.Errorf("query statement %d: %w", i, err)
			}
		}
		out = append(out, res)
	}
	return out, nil
}
