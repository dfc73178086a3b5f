// Package types defines the value types shared across the overlay core.
package types
