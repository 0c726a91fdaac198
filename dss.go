package dss

// Default simulation parameters. These match the defaults the generator
// command advertises, and are applied when a flag is omitted.
const (
	DefaultRepetitions = 100
	DefaultMinDelay    = 10
	DefaultMaxDelay    = 1000
	DefaultThreshold   = 2000000

	// DefaultPriority is the priority assigned to simulations enqueued
	// without an explicit priority.
	DefaultPriority = 0

	// RequeuePriorityBoost is added to a simulation's original priority
	// when it is requeued after a failed run, so that retried work is not
	// starved by the default-priority backlog.
	RequeuePriorityBoost = 1
)
