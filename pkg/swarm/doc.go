/*
Package swarm reads Docker Swarm's view of the database service.

The View enumerates the service's running tasks and their overlay-network
addresses, decides whether the service is fully up (all expected replicas
running, where "expected" accounts for node availability in global mode),
and locates local containers by name stem for the administrative shell
path. Engine API calls that matter for liveness are wrapped in the
exponential retry policy; exhaustion surfaces as ErrOrchestratorUnavailable.

Replica-set identity is ip-based, not DNS-based, so every call takes a
fresh snapshot from the engine. Nothing in this package caches.
*/
package swarm
