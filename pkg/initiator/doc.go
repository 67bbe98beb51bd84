/*
Package initiator performs first-time replica-set initiation.

The first rs.initiate of a deployment faces a chicken-and-egg: with a
keyfile configured, the server demands authentication for replSetInitiate,
but no user can exist before the set exists. The way out is an
administrative shell inside one of the service's containers, where
localhost commands are exempt. Once a primary is elected, the same shell
path creates the root user, again in the first stem-matched local
container; that container is not selected by the primary's ip.

Containers are located by name stem, not container id - ids change on
every restart, name stems do not. When the shell-side initiate is refused
with an authentication-required error the set already exists from a prior
deployment, and ErrAlreadyInitialized tells the reconciler to force a
driver-side reconfiguration instead. This package must only ever run in
the initiating phase; against an established set the stem-matched
container is not necessarily the primary's.
*/
package initiator
