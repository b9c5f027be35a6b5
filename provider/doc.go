// Package provider defines the contract every departure-data source implements and
// the helpers shared by the adapters in its subpackages.
//
// Adapters are stateless with respect to stations: they translate one request into
// transit records and report failures as transit.ErrProviderUnavailable or
// transit.ErrProviderResponseInvalid. They never retry; the scheduler decides when to
// ask again.
package provider
