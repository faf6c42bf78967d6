// Package orchestrator implements the turn/tool control loop: it drives one
// generation pass over a registered adapter, detects complete tool-call
// batches, executes them through the external executor, rebuilds the
// continuation request in whatever shape the provider family requires, and
// resumes generation recursively, bounded by an iteration cap.
package orchestrator
