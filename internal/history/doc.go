// Package history provides the append-only execution audit trail.
//
// Every rule, group, scene, and timer execution produces one Record in
// SQLite, regardless of outcome. Records are never updated; retention
// pruning is the only mutation. The Recorder also mirrors each record
// to telemetry (InfluxDB) when configured, so dashboards can aggregate
// without touching the system of record.
//
// Recording deliberately never fails the execution being recorded.
package history
