// Package state keeps the per-user quiz session and the record of already
// applied inbound events. Redis backs both in production; the in-memory
// variants serve tests and local runs.
package state
