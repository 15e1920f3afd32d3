// Package workflow implements durable, checkpointed multi-step execution.
//
// A workflow is a named handler driven through a *Context. Each step declared
// with Do forms a durable boundary: once the step completes, its result is
// checkpointed under the step name and is never recomputed: a retry or a
// resumed run replays the recorded result instead of re-running the step, so
// non-idempotent side effects are not repeated after a crash or restart.
//
// Failed step attempts are retried automatically up to a bounded count with
// exponential backoff; exhausting the retries fails the whole run and
// surfaces the terminating error while preserving prior checkpoints for
// diagnostics. Sleep suspends a run as a scheduled resumption without
// blocking an OS thread, and DoAll fans out into concurrent sub-calls joined
// by a barrier whose checkpoint records the combined result in input order.
package workflow
