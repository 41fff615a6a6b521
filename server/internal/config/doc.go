// Package config loads the service configuration from config.yaml, with
// environment overrides for the values deployments usually inject.
//
// Sections:
//   - server: HTTP port (default 5000, env PORT), WebSocket push interval, timeouts
//   - log: slog level (env LOG_LEVEL)
//   - feed: slot capacity (30), cache TTL (5m), page sizes, detect limit
//   - store: backend demo|memory|redis|sqlite|postgres (env THREATWATCH_STORE_BACKEND),
//     url (env REDIS_URL), dsn (env DATABASE_URL), key prefix, per-call timeout
//   - seed: optional YAML seed dataset path
//   - alerts: rules and webhook targets, hot-reloaded through Watch
//
// Load(path) applies defaults before unmarshalling, then env overrides, then
// validates. StoreConfig.Demo derives demo mode from missing credentials.
package config
