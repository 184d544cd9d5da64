// Package telemetry writes execution metrics to InfluxDB.
//
// Telemetry is an optional observer: SQLite holds the authoritative
// execution history, InfluxDB receives derived metrics for dashboards
// and retention-managed analysis. Writes are batched and non-blocking;
// a telemetry outage never fails an automation execution.
//
// When telemetry is disabled in config, Connect returns ErrDisabled and
// callers run without a client.
package telemetry
