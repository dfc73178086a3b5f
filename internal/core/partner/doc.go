// Package partner implements the Partner Supervisor: one per remote peer,
// it keeps that peer's Connection alive and reports latency.
package partner
