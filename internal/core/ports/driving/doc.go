// Package driving provides interfaces for the application's entry points
// (primary/inbound ports): the protocol handler, the query endpoints and
// the CLI drive the core through these.
package driving
