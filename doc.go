// Package zotero is a client for the Zotero Web API and its streaming API.
//
// The REST side is built around a request queue:
//   - Requests are queued and flushed together on the next turn
//   - Retry-After and Backoff directives hold back the whole queue until they expire
//   - Redirects are followed up to MaxRedirects hops
//   - Responses are decoded by content type and expose paging links, totals and versions
//   - Optional proactive pacing via a token bucket (golang.org/x/time/rate)
//   - Every request completes exactly once, through its callback and its Done channel
//
// The streaming side keeps a single WebSocket connection (github.com/coder/websocket)
// with a local set of subscriptions. The set is replayed each time the
// connection opens, and abnormal closes reconnect with backoff.
//
// Configuration uses the functional options pattern:
//
//	client := zotero.New(
//	    zotero.WithAPIKey(os.Getenv("ZOTERO_API_KEY")),
//	    zotero.WithRateLimit(5.0, 2),
//	)
//	defer client.Close()
//
//	lib := zotero.NewUserLibrary(client, 475425, "")
//	msg := lib.Get(ctx, "items/top", url.Values{"limit": {"10"}}, nil)
//	if err := msg.Wait(ctx); err != nil {
//	    return err
//	}
//
//	stream := client.NewStream(zotero.WithEventHandler(func(ev zotero.Event) {
//	    log.Println(ev.Kind, ev.Topic)
//	}))
//	stream.Subscribe([]zotero.Subscription{lib.Subscription()}, nil)
//	stream.Open()
//	defer stream.Close()
package zotero
