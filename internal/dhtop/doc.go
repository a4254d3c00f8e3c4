// Package dhtop defines the signed chain records exchanged between peers:
// headers, entries and the DHT operations derived from them, together with
// their content addresses.
//
// Key design constraints:
//   - Every address is a blake2b-256 digest over canonical JSON, prefixed
//     with a per-record domain
//   - Timestamps are integer microseconds, never floats
//   - All JSON tags use snake_case
package dhtop
