// Package ping implements the request/response round-trip probe used to
// measure link cost.
package ping
