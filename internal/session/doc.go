// Package session owns the build session aggregate: one episode-creation
// attempt from template selection through assembly and publish. All mutation
// goes through the Machine's named transition functions; polling components
// never touch session fields directly. Stale writes from superseded audio
// references or out-of-order quota responses are rejected here, under the
// session lock, rather than by each caller.
package session
