/*
Package retry holds the controller's two retry shapes: exponential backoff
for orchestrator API calls and bounded fixed-delay loops for database-side
waits. Nothing here retries forever; unbounded looping belongs only to the
reconciler's watch loop.
*/
package retry
