// Package api implements the HTTP REST API for the threat feed.
//
// New(service, opts) returns an http.Handler that serves:
//
//	GET  /api/v1/threats           one page of active threats (?page=&limit=)
//	POST /api/v1/threats           ingest a threat; 400 when title/type/severity missing
//	POST /api/v1/detect            first records of the feed plus the total count
//	GET  /api/v1/health            mode, cache state, diagnostic hints
//	GET  /api/v1/alerts            firing and recently resolved alerts
//	POST /api/v1/cache/invalidate  drop the cached snapshot
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for unsupported methods
//   - Never surface remote store failures; degraded reads carry source/degraded markers
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
