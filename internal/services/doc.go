// Package services holds the error taxonomy and context conventions shared by
// every component that talks to the production backend. Network failures are
// classified here, at the component boundary; the session state machine only
// ever sees already-classified outcomes.
package services
