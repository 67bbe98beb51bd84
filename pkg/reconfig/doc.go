/*
Package reconfig applies membership changes to a live replica set through
the authenticated driver. It is the steady-state counterpart of the
initiator's shell path and requires the root user to exist.
*/
package reconfig
