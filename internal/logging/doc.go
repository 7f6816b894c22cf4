// Package logging wires log/slog with the handlers and field conventions
// shared by every DoneCast component. Build components log through a
// component-scoped logger so console output stays greppable by subsystem.
package logging
