// Package aggregator derives every view of a station from one cache snapshot.
//
// Aggregate is a pure function of the snapshot, the selector set and the result
// limit: calling it twice with the same inputs yields deep-equal results, so views can
// be republished after a selector change without fetching again. Values that depend on
// the wall clock (the next upcoming departure, which messages are currently valid) are
// resolved at read time through NextAt and MessagesAt.
package aggregator
