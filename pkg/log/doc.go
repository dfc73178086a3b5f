// Package log provides the overlay core's structured logging convention: one
// named zap.SugaredLogger per component.
package log
