// Package config aggregates the tunable settings for every core component,
// as a root Config embedding one sub-struct per component plus
// JSON-string-parseable durations.
package config
