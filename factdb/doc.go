// Package factdb is the in-memory fact database the query cache runs on.
//
// A DB is an immutable value made of entities, each a set of attribute
// values. Transactions never modify a DB; they return a TxReport carrying the
// database before and after the change plus the ordered batch of facts that
// were added or retracted:
//
//	conn := factdb.NewConn(factdb.DefaultSchema())
//	report, err := conn.Transact(ctx, []any{
//		factdb.Entity{factdb.AttrName: "inbox", factdb.AttrUUID: uuid.New()},
//	}, nil)
//
// Queries are patterns over [entity attribute value] clauses and can be
// written in Go or in the textual form understood by ParseQuery:
//
//	q := factdb.MustParseQuery(`[:find (pull ?b [*]) :in $ ?p :where [?b :block/page ?p]]`)
//	blocks, err := factdb.Q(q, conn.DB(), pageID)
//
// Snapshots used by the cache are built by seeding an Empty database with
// pulled entities (WithEntities) and applying fact batches (WithFacts).
package factdb
