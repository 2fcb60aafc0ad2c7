// Package dbrest is a client for the REST API of a document and relational
// database server. It covers:
//
//   - Row-set queries over serialized execution plans, and plan explain
//   - Document read, write and removal with metadata categories
//   - Server configuration: extension libraries and transforms
//
// Every operation validates its options and encodes its request before any
// network activity; those errors return synchronously. Once dispatched, an
// operation delivers its outcome through a *ResultProvider: items stream to
// OnItem subscribers or a range-over-func iterator, and the terminal outcome
// reaches Result or Wait exactly once.
//
// The default transport is a resilient HTTP pipeline configured with
// functional options:
//
//	client := dbrest.New(
//	    dbrest.ConnectionParams{Host: "localhost", Port: 8000, User: "admin", Password: "admin"},
//	    dbrest.WithMaxRetries(3),
//	    dbrest.WithRateLimiter(10, time.Second),
//	    dbrest.WithCircuitBreaker(dbrest.CircuitBreakerConfig{}),
//	    dbrest.WithDeduplication(),
//	)
//	rows, err := client.Rows().Query(ctx, dbrest.RawPlan(plan), dbrest.RowsOptions{
//	    Format:   dbrest.FormatJSON,
//	    Bindings: dbrest.Bindings{dbrest.BindTyped("limit", "integer", 10)},
//	})
//	if err != nil {
//	    return err // invalid option or binding, nothing was sent
//	}
//	items, err := rows.Wait(ctx)
//
// Any other transport can stand in through WithRequester.
package dbrest
