// Package usecase composes validation, cached reads, and two-step writes
// into request handlers that always answer with a result.Envelope.
//
// A ReadFlow runs its pipeline, then reads through a flightcache whose
// loader calls the upstream via a gateway. A WriteFlow runs its pipeline,
// then hands two steps to a twophase.Writer and invalidates cache keys on
// success. Only the concrete flows know business field names; the types
// here operate on opaque Requests.
package usecase
