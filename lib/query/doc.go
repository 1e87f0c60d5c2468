// Package query provides the immutable predicate and query value model used to
// address records in any db.Database implementation.
//
// Key Components:
//
//   - Predicate: A node in a boolean expression tree. ComparisonPredicate is a
//     leaf (key, operator, values) and CompoundPredicate combines children with
//     and / or / not. Values are normalized when the predicate is built, e.g.
//     time.Time becomes epoch milliseconds and records become their id.
//
//   - Query: A record group (type name), a predicate, sort order and a handful of
//     flags read by the database stages (cache opt out, reference only, ...).
//     Every builder method returns a modified copy, so a Query that was handed to
//     a database can be shared and used as a map key via Key().
//
//   - Matcher: Match and SortStates evaluate predicates in memory. The bundled
//     engines use them; backends that translate queries into another language do
//     not need them.
//
//   - Codec: Queries and predicates encode to JSON for the rpc layer.
//
// Thread Safety:
//
//	Predicates and queries are never modified after construction and may be
//	shared freely between goroutines. The two package settings
//	(SetSubQueryResolveLimit, SetNullAliasesAsMissing) are atomics.
//
// Usage Example:
//
//	q := query.From("article").
//		Where(query.And(
//			query.Eq("author", authorID),
//			query.Gt("published", time.Now().Add(-24*time.Hour)),
//		)).
//		SortDescending("published")
//
//	first, err := database.ReadFirst(ctx, q)
package query
