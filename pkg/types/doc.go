// Package types defines the Store and Table interfaces, the journal entity
// types (Bottle, Protocol, Entry, Dose, SyncItem), configuration, and the
// standard errors shared by every backend and service.
package types
