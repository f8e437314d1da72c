// Package contrib holds helpers that are not part of the mapper itself.
//
// [github.com/embedpop/embedpop/contrib/testenv] selects the stores the tests
// run against from the environment and provides a deterministic test logger.
// Its docker-compose.yml starts a MongoDB replica set and a SurrealDB server
// for the live tests.
//
// Note that this package is outside of the backward compatibility guarantees
// of the embedpop module.
package contrib
