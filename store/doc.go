// Package store provides a metadata-driven persistence engine for entity
// graphs stored in a transactional backend.
//
// Kinds are declared with generic builders and collected in a [Registry]:
//
//	reg := store.NewRegistry()
//	err := reg.Register(
//	    store.Entity[Guest]("Guest").
//	        Key(store.Prop("ID", func(g *Guest) uuid.UUID { return g.ID }, func(g *Guest, v uuid.UUID) { g.ID = v })).
//	        Props(...).
//	        Token("row_version").
//	        Timestamps().
//	        Filter(store.Eq("IsDeleted", false)),
//	)
//
// A [Store] binds the sealed registry to a [Backend]; each unit of work is a
// [Session]. A session tracks the entities it loads or is given, and
// [Session.SaveChanges] writes the difference in one transaction.
//
// # Hierarchies
//
// [Hierarchy] maps a closed set of kinds with [StrategyTablePerConcrete]
// (one table per kind, keys from a shared sequence, reads fan out over every
// table) or [StrategySingleTable] (one table, a discriminator column selects
// the kind on read).
//
// # Concurrency
//
// Kinds with a token column are written with an optimistic precondition: the
// token captured at load must still be stored. A write that matches no row is
// reported as a [ConflictError]. Conflicts are never retried.
//
// # Global filters
//
// A kind's filter is conjoined with every read of it: queries, finds,
// counts, compiled queries, navigation loads and includes, and navigation
// predicates built with [Has]. [BypassFilters] disables it for one read.
//
// # Errors
//
// The package defines sentinel errors matched with errors.Is:
//
//   - [ErrNotFound] - no visible row has the key
//   - [ErrConcurrencyConflict] - the stored token no longer matches
//   - [ErrIntegrity] - a reference rule was violated
//   - [ErrValidation] - a value was rejected before any write
//   - [ErrConversion] - a stored value could not be read back
package store
