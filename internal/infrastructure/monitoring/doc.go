// Package monitoring provides Prometheus metrics for the gateway.
//
// Alongside the usual HTTP request vectors it tracks the gateway's own
// traffic shape: upstream fetch outcomes, credential rotations, live
// tunnels, redirect chain depth, and relay request classification.
package monitoring
