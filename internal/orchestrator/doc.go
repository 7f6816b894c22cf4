// Package orchestrator coordinates one episode build session end to end: it
// starts the transcript readiness poller, runs intent detection and the
// review queue, gates assembly behind the minutes precheck, dispatches the
// build job, polls it to completion, and fires the publish plan exactly once.
//
// All session mutation goes through session.Machine; the orchestrator owns
// only the background tasks and the calls to the backend.
package orchestrator
