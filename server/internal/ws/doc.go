// Package ws implements the WebSocket push hub for the threat feed.
//
// Hub manages a set of connected clients and broadcasts the first page of
// the active feed to all of them on a configurable interval (server.ws_interval,
// default 5s). Reads go through the feed service, so pushes share its cache
// and fallback chain.
//
// New(service, interval, pageSize) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker. It blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// page immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "threats",
//	  "data":  { "threats": [...], "hasMore": true, "total": 30, "page": 1,
//	             "source": "cache", "cached": true, "degraded": false }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The server mounts the hub at /ws/stream.
package ws
