/*
Package mongoconn is the single place the MongoDB driver is dialed from.
It fixes the per-call timeouts, enforces the direct-connection discipline,
and exposes the thin Session seam the probe, reconfig and bootstrap
packages share - which is also where tests substitute fakes.
*/
package mongoconn
