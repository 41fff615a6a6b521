// Package types defines the threat record shared by the feed service, the
// remote store backends and the HTTP surfaces. Field names in JSON follow the
// wire shape consumed by existing feed clients (type, source_url, updatedAt).
package types
