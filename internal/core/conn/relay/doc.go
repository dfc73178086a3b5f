// Package relay implements the shared, reference-counted relay session pool
// and the Relay Connection built on top of it.
package relay
