// Package fakesdb provides a fake SurrealDB WebSocket server for tests.
//
// It speaks the SurrealDB RPC protocol over WebSocket with CBOR encoding,
// keeps per-connection sessions for use, signin, authenticate, let and unset,
// and answers everything else from stub responses or a query handler.
// Failures can be injected per stub.
//
// The WebSocket server is implemented using the `gws` library.
package fakesdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/embedpop/embedpop/internal/codec"
	"github.com/embedpop/embedpop/pkg/connection"
	"github.com/embedpop/embedpop/pkg/models"
)

// FailureType represents the type of failure to inject while answering a request
type FailureType string

const (
	// FailureResponseDelay sends the response after Delay, in the background
	FailureResponseDelay FailureType = "response_delay"
	// FailureNoResponse swallows the request
	FailureNoResponse FailureType = "no_response"
	// FailureInvalidResponse sends bytes that are not CBOR
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureWebSocketClose sends a close frame with CloseCode
	FailureWebSocketClose FailureType = "websocket_close"
	// FailureDropConnection closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
)

type FailureConfig struct {
	Type      FailureType
	Delay     time.Duration
	CloseCode uint16
}

// RequestMatcher matches requests by method and, optionally, by params.
type RequestMatcher struct {
	Method  string
	Matcher func(params []any) bool
}

// StubResponse answers matching requests with Result or Error.
type StubResponse struct {
	Matcher  RequestMatcher
	Result   any
	Error    *connection.RPCError
	Failures []FailureConfig
}

// QueryFunc answers a query call with one result per statement.
// A returned error becomes a failed statement.
type QueryFunc func(sql string, vars map[string]any) ([]any, error)

type Session struct {
	Namespace string
	Database  string
	Token     string
	Username  string
	ExpiresAt *time.Time
	Vars      map[string]any
}

// Server is a fake SurrealDB WebSocket server
type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server

	mu            sync.RWMutex
	stubResponses []StubResponse
	queryHandler  QueryFunc
	connSessions  map[*gws.Conn]*Session
	tokens        map[string]*Session
	requests      []connection.RPCRequest

	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler

	// TokenSignIn is returned by every successful signin.
	TokenSignIn string
}

type handler struct {
	gws.BuiltinEventHandler
	server *Server
}

// NewServer creates a new fake SurrealDB server.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	c := models.CborCodec{}

	s := &Server{
		addr:         addr,
		connSessions: make(map[*gws.Conn]*Session),
		tokens:       make(map[string]*Session),
		marshaler:    c,
		unmarshaler:  c,
		TokenSignIn:  "fakesdb_token",
	}

	s.server = gws.NewServer(&handler{server: s}, &gws.ServerOption{})
	s.server.OnError = func(_ net.Conn, err error) {
		if !isClosedError(err) {
			log.Printf("fakesdb: %v", err)
		}
	}

	return s
}

// AddStubResponse adds a stub. Stubs are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, stub)
}

// HandleQuery sets the handler for query calls that no stub matches.
func (s *Server) HandleQuery(fn QueryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryHandler = fn
}

// IssueToken registers a token that authenticate accepts until ttl elapses.
func (s *Server) IssueToken(username, token string, ttl time.Duration) {
	expiresAt := time.Now().Add(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = &Session{Username: username, Token: token, ExpiresAt: &expiresAt}
}

// Requests returns every request received so far, in order.
func (s *Server) Requests() []connection.RPCRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]connection.RPCRequest(nil), s.requests...)
}

// Start binds the listener and serves connections in the background.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil && !isClosedError(err) {
			log.Printf("fakesdb: %v", err)
		}
	}()

	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	for socket := range s.connSessions {
		_ = socket.NetConn().Close()
	}
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the address the server listens on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the ws:// URL of the server.
func (s *Server) URL() string {
	return "ws://" + s.Address()
}

func (h *handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.connSessions[socket] = &Session{}
	h.server.mu.Unlock()
}

func (h *handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	delete(h.server.connSessions, socket)
	h.server.mu.Unlock()
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req connection.RPCRequest
	if err := h.server.unmarshaler.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, nil, -32700, "Parse error")
		return
	}

	h.server.mu.Lock()
	h.server.requests = append(h.server.requests, req)
	var matched *StubResponse
	for i := range h.server.stubResponses {
		stub := h.server.stubResponses[i]
		if stub.Matcher.Method == req.Method && (stub.Matcher.Matcher == nil || stub.Matcher.Matcher(req.Params)) {
			matched = &stub
			break
		}
	}
	session := h.server.connSessions[socket]
	h.server.mu.Unlock()

	switch req.Method {
	case "use":
		h.handleUse(socket, session, &req)
		return
	case "signin":
		h.handleSignIn(socket, session, &req)
		return
	case "authenticate":
		h.handleAuthenticate(socket, session, &req)
		return
	case "invalidate":
		h.server.mu.Lock()
		session.Username, session.Token, session.ExpiresAt = "", "", nil
		h.server.mu.Unlock()
		h.sendResponse(socket, req.ID, nil)
		return
	case "let":
		h.handleLet(socket, session, &req)
		return
	case "unset":
		h.handleUnset(socket, session, &req)
		return
	case "ping":
		h.sendResponse(socket, req.ID, nil)
		return
	case "version":
		h.sendResponse(socket, req.ID, "surrealdb-fake")
		return
	}

	if msg := h.checkSession(session); msg != "" {
		h.sendError(socket, req.ID, -32000, msg)
		return
	}

	if matched != nil {
		h.answerStub(socket, &req, matched)
		return
	}

	if req.Method == "query" {
		h.handleQuery(socket, session, &req)
		return
	}

	h.sendError(socket, req.ID, -32601, "Method not found: "+req.Method)
}

func (h *handler) checkSession(session *Session) string {
	h.server.mu.RLock()
	defer h.server.mu.RUnlock()

	const prefix = "There was a problem with the database: There was a problem with authentication: "
	switch {
	case session.Namespace == "" || session.Database == "":
		return prefix + "Specify a namespace and database"
	case session.Username == "":
		return prefix + "Not signed in"
	case session.ExpiresAt != nil && time.Now().After(*session.ExpiresAt):
		return prefix + "Expired"
	}
	return ""
}

func (h *handler) answerStub(socket *gws.Conn, req *connection.RPCRequest, stub *StubResponse) {
	respond := func() {
		if stub.Error != nil {
			h.sendError(socket, req.ID, stub.Error.Code, stub.Error.Message)
			return
		}
		h.sendResponse(socket, req.ID, stub.Result)
	}

	for _, failure := range stub.Failures {
		switch failure.Type {
		case FailureResponseDelay:
			go func(d time.Duration) {
				time.Sleep(d)
				respond()
			}(failure.Delay)
			return
		case FailureNoResponse:
			return
		case FailureInvalidResponse:
			_ = socket.WriteMessage(gws.OpcodeBinary, []byte{0xff, 0xff, 0xff})
			return
		case FailureWebSocketClose:
			code := failure.CloseCode
			if code == 0 {
				code = 1001
			}
			socket.WriteClose(code, []byte("failure injection"))
			return
		case FailureDropConnection:
			_ = socket.NetConn().Close()
			return
		}
	}

	respond()
}

func (h *handler) handleQuery(socket *gws.Conn, session *Session, req *connection.RPCRequest) {
	if len(req.Params) < 1 {
		h.sendError(socket, req.ID, -32602, "query requires a statement")
		return
	}
	sql, ok := req.Params[0].(string)
	if !ok {
		h.sendError(socket, req.ID, -32602, "query statement must be a string")
		return
	}

	vars := map[string]any{}
	h.server.mu.RLock()
	for k, v := range session.Vars {
		vars[k] = v
	}
	fn := h.server.queryHandler
	h.server.mu.RUnlock()

	if len(req.Params) > 1 {
		if m, ok := req.Params[1].(map[string]any); ok {
			for k, v := range m {
				vars[k] = v
			}
		}
	}

	if fn == nil {
		h.sendResponse(socket, req.ID, []any{statement("OK", []any{})})
		return
	}

	results, err := fn(sql, vars)
	if err != nil {
		h.sendResponse(socket, req.ID, []any{statement("ERR", err.Error())})
		return
	}

	out := make([]any, 0, len(results))
	for _, r := range results {
		out = append(out, statement("OK", r))
	}
	h.sendResponse(socket, req.ID, out)
}

func statement(status string, result any) map[string]any {
	return map[string]any{
		"status": status,
		"time":   "1µs",
		"result": result,
	}
}

func (h *handler) handleUse(socket *gws.Conn, session *Session, req *connection.RPCRequest) {
	if len(req.Params) < 2 {
		h.sendError(socket, req.ID, -32602, "use requires namespace and database parameters")
		return
	}
	namespace, nsOK := req.Params[0].(string)
	database, dbOK := req.Params[1].(string)
	if !nsOK || !dbOK {
		h.sendError(socket, req.ID, -32602, "namespace and database must be strings")
		return
	}

	h.server.mu.Lock()
	session.Namespace = namespace
	session.Database = database
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) handleSignIn(socket *gws.Conn, session *Session, req *connection.RPCRequest) {
	if len(req.Params) < 1 {
		h.sendError(socket, req.ID, -32602, "signin requires auth data")
		return
	}

	var username string
	if authData, ok := req.Params[0].(map[string]any); ok {
		if user, ok := authData["user"].(string); ok {
			username = user
		} else if user, ok := authData["username"].(string); ok {
			username = user
		}
	}
	if username == "" {
		h.sendError(socket, req.ID, -32602, "signin requires username in auth data")
		return
	}

	h.server.mu.Lock()
	token := h.server.TokenSignIn
	session.Username = username
	session.Token = token
	session.ExpiresAt = nil
	h.server.tokens[token] = &Session{Username: username, Token: token}
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, token)
}

func (h *handler) handleAuthenticate(socket *gws.Conn, session *Session, req *connection.RPCRequest) {
	token, ok := firstString(req.Params)
	if !ok {
		h.sendError(socket, req.ID, -32602, "authenticate requires a token")
		return
	}

	h.server.mu.Lock()
	defer h.server.mu.Unlock()

	if session.Namespace == "" || session.Database == "" {
		h.sendError(socket, req.ID, -32000, "Specify a namespace and database to use")
		return
	}

	found, ok := h.server.tokens[token]
	if !ok {
		h.sendError(socket, req.ID, -32000, "Authentication failed: no session found for token")
		return
	}
	if found.ExpiresAt != nil && time.Now().After(*found.ExpiresAt) {
		h.sendError(socket, req.ID, -32000, "Authentication failed: token expired")
		return
	}

	session.Username = found.Username
	session.Token = token
	session.ExpiresAt = found.ExpiresAt

	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) handleLet(socket *gws.Conn, session *Session, req *connection.RPCRequest) {
	if len(req.Params) != 2 {
		h.sendError(socket, req.ID, -32602, "let requires a key and a value")
		return
	}
	key, ok := req.Params[0].(string)
	if !ok {
		h.sendError(socket, req.ID, -32602, "let key must be a string")
		return
	}

	h.server.mu.Lock()
	if session.Vars == nil {
		session.Vars = make(map[string]any)
	}
	session.Vars[key] = req.Params[1]
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) handleUnset(socket *gws.Conn, session *Session, req *connection.RPCRequest) {
	key, ok := firstString(req.Params)
	if !ok {
		h.sendError(socket, req.ID, -32602, "unset requires a key")
		return
	}

	h.server.mu.Lock()
	delete(session.Vars, key)
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) sendResponse(socket *gws.Conn, id, result any) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Result = &result

	data, err := h.server.marshaler.Marshal(resp)
	if err != nil {
		h.sendError(socket, id, -32603, fmt.Sprintf("sendResponse: %v", err))
		return
	}

	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil && !isClosedError(err) {
		log.Printf("fakesdb: write response: %v", err)
	}
}

func (h *handler) sendError(socket *gws.Conn, id any, code int, message string) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Error = &connection.RPCError{
		Code:    code,
		Message: message,
	}

	data, err := h.server.marshaler.Marshal(resp)
	if err != nil {
		log.Printf("fakesdb: marshal error response: %v", err)
		return
	}

	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil && !isClosedError(err) {
		log.Printf("fakesdb: write error response: %v", err)
	}
}

// MatchMethod creates a RequestMatcher that matches only by method name
func MatchMethod(method string) RequestMatcher {
	return RequestMatcher{Method: method}
}

// MatchQuery matches query calls whose statement contains fragment.
func MatchQuery(fragment string) RequestMatcher {
	return RequestMatcher{
		Method: "query",
		Matcher: func(params []any) bool {
			sql, ok := firstString(params)
			return ok && strings.Contains(sql, fragment)
		},
	}
}

// SimpleStubResponse creates a stub answering method with response.
func SimpleStubResponse(method string, response any) StubResponse {
	return StubResponse{
		Matcher: MatchMethod(method),
		Result:  response,
	}
}

// ErrorStubResponse creates a stub that returns an RPC error.
func ErrorStubResponse(method string, code int, message string) StubResponse {
	return StubResponse{
		Matcher: MatchMethod(method),
		Error: &connection.RPCError{
			Code:    code,
			Message: message,
		},
	}
}

func firstString(params []any) (string, bool) {
	if len(params) == 0 {
		return "", false
	}
	s, ok := params[0].(string)
	return s, ok
}

func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || strings.HasSuffix(err.Error(), "use of closed network connection")
}
