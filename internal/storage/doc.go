// Package storage provides the durable key-value layer kvpush persists its
// state through (delivered-id set, ad-slot snippets).
//
// Drivers: file, sqlite, postgres, redis, memory. Values are opaque bytes.
package storage
