package types

// Event represents a typed notification emitted during state transitions.
// Attributes are flat string pairs so downstream consumers (RPC, indexers)
// can forward them without schema knowledge.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
