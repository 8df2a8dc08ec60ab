// Package services contains the core application services: the FMDM
// snapshot service, folder validation, the daemon act handlers, the
// folder lifecycle state machine and the search engine. Services depend
// only on domain types and ports.
package services
