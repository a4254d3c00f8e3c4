// Package fixt builds signed chain records for tests: deterministic
// helpers for hand-written scenarios and gopter generators for property
// tests.
package fixt
