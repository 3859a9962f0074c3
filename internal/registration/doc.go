// Package registration implements drone onboarding: a drone submits a
// registration request, an operator approves or rejects it, and the drone
// polls the request status until it receives broker credentials.
//
// # State machine
//
//	          Submit
//	            │
//	            ▼
//	        PENDING ──APPROVE──▶ APPROVED (terminal, drone created)
//	            │
//	            └─────REJECT───▶ REJECTED (terminal)
//
// Approval is one transaction: the request row moves out of PENDING with a
// conditional UPDATE and the drone row is inserted with the same tx, so two
// concurrent approvals can never both succeed and a failed insert leaves the
// request PENDING.
//
// # Notifications
//
// Every new request and every decision is broadcast on the "registrations"
// channel of the Notifier, typically the WebSocket hub.
package registration
