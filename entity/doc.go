// Package entity maps a station's configuration onto the set of observable entities a
// dashboard sees, and is the only writer of their state.
//
// Every station has three fixed entities (next departure, all departures, messages)
// and one entity per configured selector. Reconcile computes the difference between
// the bound entities and the ones the configuration implies: additions are
// registered, removals are unregistered, and everything else keeps its existing
// Binding. Publish writes a rendered State to every Sink, skipping states identical
// to the last one written.
//
// Identifiers are derived only from station ID, view kind, line and direction, so an
// entity keeps its unique ID across restarts as long as its selector is unchanged.
package entity
