/*
Package types defines the core data structures used throughout replicactl.

This package contains the fundamental types shared by every other package:
task addresses as reported by the orchestrator, replica-set configuration
documents as read from and written to MongoDB, the classified result of
probing a single member, and the controller's lifecycle phase.

All types here are plain values. A TaskAddress or NodeStatus is produced and
consumed within a single reconciliation tick and never persisted; the
ReplicaSetConfig struct carries the bson and json tags needed to serialise
the same document both through the driver (replSetReconfig) and through the
in-container mongosh path (rs.initiate).
*/
package types
