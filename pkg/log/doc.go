/*
Package log provides structured logging for replicactl using zerolog.

The package wraps zerolog behind a global logger initialised once at process
start via Init, plus WithComponent/WithMember helpers so every package logs
with a stable component field. Console output with RFC3339 timestamps is the
default; JSON output is an opt-in for log shippers.

Setting DEBUG=1 in the environment maps to the debug level at startup; the
debug stream carries the per-node probe classifications that are too noisy
for steady-state operation.
*/
package log
