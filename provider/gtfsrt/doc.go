// Package gtfsrt adapts a GTFS schedule plus GTFS-Realtime TripUpdates and Alerts
// feeds to the provider contract.
//
// The static feed labels real-time data: stops.txt drives station search and
// parent/platform folding, routes.txt supplies line names and transport types, and
// trips.txt supplies headsigns used as destinations. Real-time feeds are fetched on
// every call; only the static index is held in memory.
package gtfsrt
