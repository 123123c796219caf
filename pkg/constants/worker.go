package constants

// AgentState worker agent lifecycle state
type AgentState string

const (
	AgentStateStarting   AgentState = "STARTING"   // Gathering capabilities, generating worker id
	AgentStateRegistered AgentState = "REGISTERED" // Initial registration done
	AgentStatePolling    AgentState = "POLLING"    // Blocked on the worker queue
	AgentStateExecuting  AgentState = "EXECUTING"  // Running a job through the executor
	AgentStateDraining   AgentState = "DRAINING"   // Shutdown requested, finishing in-flight job
	AgentStateStopped    AgentState = "STOPPED"    // Terminal
)

func (s AgentState) String() string {
	return string(s)
}
