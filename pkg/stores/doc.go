// Package stores persists the history of rule graph runs.
//
// SQLiteStore keeps runs, the per-root results of each run and graph
// invalidations in SQLite (WAL mode, embedded migrations). It implements
// engine.RunRecorder, so a scheduler created with engine.WithRecorder writes
// every run it executes.
package stores
