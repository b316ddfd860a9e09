// Package workflow runs merge jobs in the background.
//
// The Runner polls the store for pending MergeJob rows, claims up to
// merge.workers of them at once, and drives each through the merge
// orchestrator and the moderation gate while persisting stage and percent so
// clients can poll progress. Only one job per challenge runs at a time: the
// store never hands out a second job for a challenge with a running one, and
// a Locker (in-process, or Redis when coordination.redis_url is set) extends
// that guarantee across daemons.
//
// Heartbeats keep claimed jobs alive; jobs whose heartbeat goes stale are
// returned to pending. A separate sweep loop expires abandoned uploads,
// reclaims stale jobs, and re-scans assets whose moderation failed
// transiently.
package workflow
