/*
Package metrics exports Prometheus metrics and the /healthz endpoint for
replicactl.

The controller is a background loop with no request surface, so the
metrics listener is optional (METRICS_ADDR) and its failure is never
fatal. Counters cover reconcile cycles, initiations and reconfigurations
(by force and outcome). The reconciler records each phase transition as
its component message; the health payload shows a component's message only
when that component is unhealthy.
*/
package metrics
