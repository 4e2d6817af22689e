// Package otel binds an authsession Manager to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers observable instruments that a single
// callback fills from [authsession.Manager.MetricsSnapshot] and
// [authsession.Manager.Snapshot] on each collection cycle:
//
//   - one Int64ObservableCounter per lifecycle counter (validations,
//     refreshes, retries, clears, teardowns);
//   - validation and refresh latency as a "_bucket" counter carrying an
//     le attribute per cumulative bucket, plus a "_count" counter, when
//     latency histograms are enabled;
//   - gauges for whether the session is authenticated and how long ago
//     its token was last refreshed.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate manager state.
package otel
