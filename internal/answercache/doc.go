// Package answercache persists per-audio intent answers, accepted edit
// overrides, and transcript paths in SQLite. Re-entering the build flow with
// the same audio reference restores this state instead of re-running
// detection and review against the backend.
package answercache
