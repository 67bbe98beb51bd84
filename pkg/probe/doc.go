/*
Package probe classifies the state of individual MongoDB members.

Two probes exist: an unauthenticated hello, used whenever the root user may
not exist yet (fresh deployments, redeployment windows), and an
authenticated replSetGetConfig read. Results are a tagged NodeStatus
variant, classified by numeric server error code wherever the driver
exposes one, so call sites can match exhaustively instead of parsing driver
errors. Handshake-phase auth failures carry no exported code and are
recognised by their message text.

Every connection is direct. MongoDB 4+ defaults to discovery-based
connections, which report every reachable member as a writable primary
until the topology converges; a controller probing for the real primary
cannot tolerate that.

Expected auth failures during deployment windows are logged once per node
through a bounded LRU, purely to keep the log readable.
*/
package probe
