// The [embedpop] package is a thin object-document mapper for entities whose
// many-to-many relations may live inside embedded values.
//
// # Stores
//
// The client URL picks the backend when the mapper is initialized with [Init]:
//
//   - mongodb:// and mongodb+srv:// use [github.com/embedpop/embedpop/pkg/store/mongo]
//   - ws://, wss://, http:// and https:// use [github.com/embedpop/embedpop/pkg/store/surreal]
//   - memory:// uses [github.com/embedpop/embedpop/pkg/store/memory]
//
// Any other [store.Store] can be supplied with [WithStore].
//
// # Entities
//
// An entity embeds [models.BaseEntity] inline and implements [models.Entity].
// Relations are declared explicitly with their dotted bson path, so a
// collection inside an embedded value is declared as "embeddedMember.otherEntities".
// Relation values are [models.Collection] fields; they persist as references and
// are populated on read with [Populate]. Population is done by the store itself:
// $lookup on MongoDB, FETCH on SurrealDB.
//
// # Entity managers
//
// [ORM.EM] returns the global entity manager. Unless [Config.AllowGlobalContext]
// is set it refuses every operation and callers are expected to [EntityManager.Fork]
// a manager per unit of work. Writes are wrapped in a transaction when
// [Config.ImplicitTransactions] is set and the store supports transactions.
package embedpop
