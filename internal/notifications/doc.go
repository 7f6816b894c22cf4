// Package notifications sends ntfy push notifications for build lifecycle
// events. When no topic is configured every notification is a silent no-op.
package notifications
