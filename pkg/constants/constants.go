package constants

import "time"

const (
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000
	// DefaultWSTimeout is the per-request timeout applied by the WebSocket connection.
	DefaultWSTimeout = 30 * time.Second
)

const (
	SchemeMemory       = "memory"
	SchemeMongo        = "mongodb"
	SchemeMongoSRV     = "mongodb+srv"
	WebsocketScheme    = "ws"
	SecureWSScheme     = "wss"
	HTTPScheme         = "http"
	HTTPSecureScheme   = "https"
	DefaultNamespace   = "embedpop"
	DefaultDatabase    = "test"
	PrimaryKeyField    = "_id"
	SurrealRecordField = "id"
)
