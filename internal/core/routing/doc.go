// Package routing implements the Route Table: per-source link-state
// storage and single-source-shortest-path next-hop computation.
package routing
