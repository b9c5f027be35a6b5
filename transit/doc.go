// Package transit defines the provider-neutral records shared by every stage of the
// departure pipeline.
//
// It contains:
//   - Station and StationCandidate: configured and searchable stops
//   - Selector: a (line, direction) pair chosen for a station
//   - Departure and Message: records produced fresh on every fetch cycle
//   - ViewKind and ViewID: the identity of an aggregated view
//   - The error taxonomy used by providers and the configuration layer
//
// Records are values. Nothing in this package mutates a Departure or Message once a
// provider has produced it.
package transit
