package rating

// Version constants for the agent and its persisted formats.
const (
	// AgentVersion is reported by the local status endpoint and the CLI.
	AgentVersion = "0.3.0"

	// SchemaVersion is the record store schema version (PRAGMA user_version).
	SchemaVersion = 3
)
