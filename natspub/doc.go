// Package natspub mirrors entity lifecycle events and state changes onto NATS
// subjects so other services can follow the dashboard without polling the API.
//
// Subjects, for a prefix of "departures":
//
//	departures.entity.registered        binding created
//	departures.entity.unregistered      binding removed
//	departures.state.<object_id>        state change, object_id is the entity ID
//	                                    without its "sensor." domain
//
// Payloads are JSON. A publisher that is disconnected drops messages and reports
// ErrNotConnected; NATS reconnects in the background.
package natspub
