package domain

import "time"

// Signal bus channels.
const (
	ChannelDecisions = "risk:decisions"
	ChannelVerdicts  = "exit:verdicts"
	ChannelCycles    = "evolution:cycles"
	ChannelSnapshots = "risk:snapshots"
)

// Event is the envelope published on the signal bus and the event log.
type Event struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// EngineStatus summarises the running process.
type EngineStatus struct {
	Mode          string `json:"mode"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OpenPositions int    `json:"open_positions"`
	SymbolGroups  int    `json:"symbol_groups"`
}
