package core

// ArtifactLifetime governs when the Cleanup Manager deletes an artifact.
type ArtifactLifetime string

const (
	// LifetimeTransient is deleted after one agent execution.
	LifetimeTransient ArtifactLifetime = "TRANSIENT"
	// LifetimeSession is deleted after task completion.
	LifetimeSession ArtifactLifetime = "SESSION"
	// LifetimePersistent is retention-bounded in hours.
	LifetimePersistent ArtifactLifetime = "PERSISTENT"
	// LifetimePermanent is an audit trail entry, never deleted.
	LifetimePermanent ArtifactLifetime = "PERMANENT"
)
