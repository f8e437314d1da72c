package constants

import "errors"

// Mapper errors
var (
	ErrNotFound        = errors.New("entity not found")
	ErrNoDocument      = errors.New("no document")
	ErrInvalidID       = errors.New("invalid serialized id")
	ErrUnknownEntity   = errors.New("entity is not registered")
	ErrUnknownRelation = errors.New("entity does not declare relation")
	ErrGlobalContext   = errors.New("using global entity manager is not allowed, fork it first or enable AllowGlobalContext")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrUnsavedEntity   = errors.New("collection references an entity without primary key")
	ErrNoEntities      = errors.New("no entities registered")
	ErrNoDBName        = errors.New("database name is not set")
	ErrInvalidMetadata = errors.New("invalid entity metadata")
)

// Connection errors
var (
	ErrUnsupportedScheme = errors.New("unsupported client url scheme")
	ErrIDInUse           = errors.New("id already in use")
	ErrTimeout           = errors.New("timeout")
	ErrNoBaseURL         = errors.New("base url not set")
	ErrNoMarshaler       = errors.New("marshaler is not set")
	ErrNoUnmarshaler     = errors.New("unmarshaler is not set")
	ErrClosed            = errors.New("connection closed")
	ErrQuery             = errors.New("error occurred processing the SurrealDB query")
	InvalidResponse      = errors.New("invalid SurrealDB response") //nolint:stylecheck
)
