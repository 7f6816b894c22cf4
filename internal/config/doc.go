// Package config loads and validates the TOML configuration that drives the
// episode build workflow: backend API connection, poll intervals, retry
// budgets, the intent answer cache, and push notifications.
package config
