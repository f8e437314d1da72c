package gws_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedpop/embedpop/internal/fakesdb"
	"github.com/embedpop/embedpop/pkg/connection"
	"github.com/embedpop/embedpop/pkg/connection/gws"
	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
)

func connect(t *testing.T) (*fakesdb.Server, *gws.Connection) {
	t.Helper()
	server := fakesdb.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		_ = server.Stop()
	})

	u, err := url.Parse(server.URL())
	require.NoError(t, err)
	conn := gws.New(connection.NewConfig(u))
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() {
		_ = conn.Close(context.Background())
	})

	ctx := context.Background()
	require.NoError(t, conn.Use(ctx, "embedpop", "test"))
	_, err = conn.SignIn(ctx, map[string]any{"user": "root", "pass": "root"})
	require.NoError(t, err)
	return server, conn
}

func TestConnection_query(t *testing.T) {
	ctx := context.Background()
	server, conn := connect(t)

	id := models.NewObjectID()
	server.HandleQuery(func(sql string, vars map[string]any) ([]any, error) {
		if sql == "THROW" {
			return nil, errors.New("thrown")
		}
		return []any{[]any{map[string]any{"id": vars["rid"], "name": "a"}}}, nil
	})

	res, err := connection.RunQuery[[]map[string]any](ctx, conn, "SELECT * FROM $rid",
		map[string]any{"rid": models.RecordIDFor("other_entity", id)})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Result, 1)
	assert.Equal(t, "a", res[0].Result[0]["name"])

	rid, ok := res[0].Result[0]["id"].(models.RecordID)
	require.True(t, ok)
	oid, ok := rid.ObjectID()
	require.True(t, ok)
	assert.Equal(t, id, oid)

	_, err = connection.RunQuery[[]any](ctx, conn, "THROW", nil)
	var qerr *connection.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "thrown", qerr.Message)

	require.NoError(t, conn.Let(ctx, "k", "v"))
	require.NoError(t, conn.Unset(ctx, "k"))
}

func TestConnection_rpcError(t *testing.T) {
	server, conn := connect(t)
	server.AddStubResponse(fakesdb.ErrorStubResponse("query", -32000, "boom"))

	_, err := connection.RunQuery[any](context.Background(), conn, "INFO FOR DB", nil)
	var rpcErr *connection.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "boom", rpcErr.Message)
}

func TestConnection_timeout(t *testing.T) {
	server, conn := connect(t)
	server.AddStubResponse(fakesdb.StubResponse{
		Matcher:  fakesdb.MatchQuery("SLOW"),
		Failures: []fakesdb.FailureConfig{{Type: fakesdb.FailureNoResponse}},
	})
	conn.SetTimeout(100 * time.Millisecond)

	_, err := connection.RunQuery[any](context.Background(), conn, "SLOW", nil)
	require.ErrorIs(t, err, constants.ErrTimeout)
}

func TestConnection_droppedByServer(t *testing.T) {
	server, conn := connect(t)
	server.AddStubResponse(fakesdb.StubResponse{
		Matcher:  fakesdb.MatchQuery("DROP"),
		Failures: []fakesdb.FailureConfig{{Type: fakesdb.FailureDropConnection}},
	})

	_, err := connection.RunQuery[any](context.Background(), conn, "DROP", nil)
	require.Error(t, err)
	assert.Eventually(t, conn.IsClosed, time.Second, 10*time.Millisecond)
}

func TestConnection_close(t *testing.T) {
	_, conn := connect(t)

	require.NoError(t, conn.Close(context.Background()))
	assert.True(t, conn.IsClosed())
	require.ErrorIs(t, conn.Use(context.Background(), "a", "b"), constants.ErrClosed)
	require.NoError(t, conn.Close(context.Background()), "closing twice is a no-op")
}

func TestConnection_preConnectionChecks(t *testing.T) {
	conn := gws.New(&connection.Config{})
	require.ErrorIs(t, conn.Connect(context.Background()), constants.ErrNoBaseURL)
}
