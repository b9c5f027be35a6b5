// Package cache holds the latest successful fetch result per station.
//
// A Snapshot is immutable once stored. Store replaces the whole snapshot for a
// station, so readers see either the previous or the new result, never a mix. There
// is no expiry: a failed cycle leaves the last known good snapshot in place and
// staleness is judged by the caller from FetchedAt.
package cache
