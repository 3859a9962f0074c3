// Package device provides the Device Store: the durable record of every
// provisioned drone, its broker identity and its liveness.
//
// # Lifecycle
//
//	registration approval ──CreateTx──▶ drones row (OFFLINE)
//	                                         │
//	telemetry heartbeat ──TouchHeartbeat─────┘  last_heartbeat_at, OFFLINE→ONLINE
//	status poll ──ReplaceSecretHash / ClaimFirstIssue──▶ mqtt_secret_hash
//
// Drones are never deleted. Rows are created only inside the approval
// transaction owned by the registration package, so a drone always has
// exactly one approved registration request behind it.
//
// # Heartbeats
//
// TouchHeartbeat is last-write-wins by telemetry timestamp: an older
// heartbeat arriving after a newer one is ignored and reported as
// ErrStaleHeartbeat. Timestamps are stored in database.TimeLayout so the
// comparison can be done by SQLite on the text column.
package device
