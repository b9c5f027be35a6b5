// Package filter narrows a station's raw departures to the lines and directions a user
// selected.
//
// Output is always ordered by departure time ascending, with ties broken by line and
// then destination, so identical input produces identical output. The departure time
// is the real-time estimate when the provider reports one and the scheduled time
// otherwise, so a delayed train sorts where it will actually leave and a list never
// shows a later train ahead of an earlier one. Cancelled departures
// are kept and flagged; dropping them is a presentation decision.
package filter
