// Package selftest validates the service's external dependencies with real
// round trips.
//
// Three dependencies are checked in parallel:
//
//	database    temp table create, insert, read back, drop
//	timeseries  ping, write a canary point, read it back through a query
//	broker      subscribe to a canary topic, publish, wait for delivery
//
// Every sub-check is reported individually and rolled up per dependency.
// The latest Report backs the health endpoint. In strict mode a failed
// startup run exits the process after a grace period.
package selftest
