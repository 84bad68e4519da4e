// Package master implements the telescope-level master device: a controlled
// entity with a power state machine but no observing state. It accepts the
// four power commands and starts in STANDBY.
package master
