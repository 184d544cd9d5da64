// Package schedule runs the time side of Haven Core: one-shot and
// recurring device timers, plus weekly group schedules keyed on fixed
// clock times or sunrise/sunset with an offset.
//
// The Scheduler polls once a minute. Due work is handed to a Sink (the
// automation engine) so this package never touches devices directly.
// A timer found more than one polling interval past its scheduled
// time is considered missed and skipped rather than fired late.
package schedule
