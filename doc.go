// Package secops provides a Go client for the Google Security Operations
// (Chronicle) REST API.
//
// # Quick Start
//
//	client, err := secops.NewClient(
//	    secops.WithInstance("my-project", "customer-uuid", "us"),
//	    secops.WithTokenSource(tokenSource),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := client.Logs.Ingest(ctx, &secops.IngestLogsRequest{
//	    LogType:  "OKTA",
//	    Messages: lines,
//	})
//
// # Large requests
//
// Ingestion, bulk row writes and case lookups accept any number of items.
// The client splits them into the fewest requests the endpoint accepts and
// sends those in order. When a request fails after earlier ones succeeded
// the error is a *PartialBatchError that reports which input ranges were
// committed and which were not:
//
//	var partial *secops.PartialBatchError
//	if errors.As(err, &partial) {
//	    log.Printf("committed %s, retry %s", partial.Committed, partial.Pending)
//	}
//
// Input that can never fit a request is rejected with a *SizeViolationError
// before anything is sent.
//
// # Retries
//
// Rate-limit rejections are retried with a fixed pause; see
// DefaultRetryPolicy and WithRetryPolicy. Other failures are returned
// unchanged and can be inspected with errors.As:
//
//	var notFound *secops.NotFoundError
//	if errors.As(err, &notFound) {
//	    // ...
//	}
//
// # Streaming
//
// Rule tests stream their results. Events are decoded as the consumer asks
// for them and a dropped connection surfaces as a *StreamTransportError:
//
//	for ev, err := range client.Rules.Test(ctx, req) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    switch ev.Kind {
//	    case secops.EventDetection:
//	        // ...
//	    case secops.EventProgress:
//	        fmt.Printf("%.0f%%\n", ev.Percent)
//	    }
//	}
//
// # Pagination
//
// List methods return lazy iterators that fetch pages on demand:
//
//	rules, err := secops.Collect(client.Rules.List(ctx))
package secops
