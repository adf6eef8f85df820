// Package redis backs the hub with Redis: Pub/Sub carries broadcasts between
// processes, hashes hold connection attachments and plain keys with expiry
// record which sessions are open.
package redis
