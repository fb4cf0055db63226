// Package metacache implements a lazy, hierarchical cache for remote catalog metadata
// (schemas, tables, columns, indexes, ...). Collections are populated on first access
// from a RowSource, converted by a Factory, and kept in memory until explicitly cleared
// or refreshed.
//
// Components:
//   - ObjectCache: one owner -> one named, ordered collection, loaded with a single query.
//   - LookupCache: ObjectCache plus a narrow single-name query for resolving references
//     without enumerating the whole collection.
//   - CompositeCache: joins a parent collection with one child stream ordered by parent
//     key and attaches a child collection to every parent.
//   - Registry: scopes caches to their container and invalidates them together.
//
// Population is synchronous and single-flight: concurrent callers of the same
// collection share one remote query. Cancellation is polled once per row; a cancelled
// population returns its partial result together with ctx.Err() and persists nothing.
//
// Refresh re-runs the query and merges by name: objects present before and after keep
// their identity and receive the new field values (see Refresher).
//
// Optional snapshot tier:
//
//	coll:<ns>          - bulk frame of a Loaded collection
//	obj:<ns>:<hash>    - single frame of an object fetched by a narrow lookup
//
// Frames carry the collection generation; ClearCache and Refresh bump it, so stale
// frames are rejected and deleted on read.
package metacache
