// Package metrics counts flush outcomes and renders them, together with
// cache gauges, in the Prometheus text exposition format.
package metrics
