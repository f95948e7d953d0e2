package consts

import "time"

// Output capture limits
const (
	// MaxOutputBytes caps the accumulated output buffer of one execution
	MaxOutputBytes = 10 * 1024 * 1024
	// OutputChunkBuffer is the channel buffer for streamed output chunks
	OutputChunkBuffer = 256
)

// Timeouts for various operations
const (
	// Timeout2Seconds is a 2 second timeout
	Timeout2Seconds = 2 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// Timeout60Seconds is a 60 second timeout (1 minute)
	Timeout60Seconds = 60 * time.Second
	// Timeout5Minutes is a 5 minute timeout
	Timeout5Minutes = 5 * time.Minute
	// Timeout10Minutes is a 10 minute timeout
	Timeout10Minutes = 10 * time.Minute
)

// Defaults for supervised executions
const (
	// DefaultExecutionTimeout bounds a supervised process unless the tool
	// descriptor overrides it
	DefaultExecutionTimeout = Timeout5Minutes
	// DefaultKillGrace is how long a terminated process group gets to exit
	// before escalation to SIGKILL
	DefaultKillGrace = Timeout5Seconds
	// DefaultSessionConcurrency is the per-session cap on running executions
	DefaultSessionConcurrency = 2
	// DefaultSyncWindow is how long the execute endpoint waits for a fast
	// command before falling back to async polling
	DefaultSyncWindow = Timeout2Seconds
)

// Defaults for external dependencies
const (
	// DefaultInferTimeout bounds a single generative-model call
	DefaultInferTimeout = Timeout30Seconds
	// DefaultProbeTTL is how long an install-probe result stays cached
	DefaultProbeTTL = Timeout60Seconds
)

// Session bookkeeping limits
const (
	// MaxConversationTurns bounds the in-memory conversation log
	MaxConversationTurns = 20
	// MaxRecentHistory is the default page size for history queries
	MaxRecentHistory = 5
)
