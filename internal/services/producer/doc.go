// Package producer is the typed client for the production backend's HTTP JSON
// API: audio upload, transcript status, intent detection, edit candidates,
// minutes precheck, assembly dispatch, job status, and publishing. Exact
// routes are backend-owned; callers depend only on the semantic contracts.
// Every error leaves this package already classified against the sentinels in
// package services.
package producer
