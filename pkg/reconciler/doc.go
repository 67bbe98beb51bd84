/*
Package reconciler keeps MongoDB replica-set membership synchronized with
Docker Swarm's task set.

The reconciler is the entry point of the controller core. On startup it
takes one classification pass, then settles into a 10-second watch loop:

	┌──────────────────────────────────────────────────────────┐
	│                    Startup pass                          │
	│  snapshot task ips ──► gather existing config ──►        │
	│  classify: initiate | reconfigure | no-op                │
	└────────────────────────┬─────────────────────────────────┘
	                         │
	                         ▼
	┌──────────────────────────────────────────────────────────┐
	│                    Watch loop (10 s)                     │
	│  re-snapshot ips ──► symmetric diff vs known ──►         │
	│  reconfigure on drift ──► re-resolve primary             │
	└──────────────────────────────────────────────────────────┘

# Classification

Three situations have to be distinguished, and confusing them corrupts a
cluster:

  - Never initialized: no node returns a configuration from
    replSetGetConfig. While every node answers with server code 94
    (NotYetInitialized) the read is repeated within a bounded retry window;
    auth failures and unreachable nodes end the window early. The set is built
    from scratch through the in-container shell path, because the very first
    rs.initiate predates any user and cannot authenticate.
  - Initialized but redeployed: a config exists on some node, yet its member
    ips no longer match the running tasks. Every container ip rotated at
    once, so no quorum of the old set can ever assemble; the config is
    rewritten with force.
  - Healthy, possibly scaling: config members match the tasks, or differ by
    the nodes being added/removed. A plain versioned reconfig follows the
    task set.

# Ownership

The reconciler owns the known-membership set and the lifecycle phase. Known
membership is updated only after a successful initiate, reconfigure, or
observation - a failed update leaves it untouched so the next tick retries
the same drift. Everything else (task addresses, probe results, configs) is
a value produced and consumed within a single tick.

Probes run sequentially by design: the member count is small, serialized
probing keeps the log readable, and per-node failures stay attributable.

The controller trades correctness-under-split-brain for liveness-under-
churn: the orchestrator's task set is treated as ground truth for
membership, and the controller is the single configuration writer by
deployment contract.
*/
package reconciler
