package types

import "time"

// InstrumentDetail represents the result of a metadata read: the base row,
// the extension row when one exists, the derived lifecycle state, and any
// consistency warnings observed while joining the two.
type InstrumentDetail struct {
	Instrument Instrument           `json:"instrument"`
	Extension  ExtensionRecord      `json:"extension,omitempty"`
	State      string               `json:"state"`
	Warnings   []ConsistencyWarning `json:"warnings,omitempty"`
}

// Change actions recorded in the journal and published to listeners
const (
	ChangeRegistered = "REGISTERED"
	ChangeUpdated    = "UPDATED"
	ChangeDelisted   = "DELISTED"
	ChangeDeleted    = "DELETED"
)

// ChangeEvent represents one committed metadata mutation
type ChangeEvent struct {
	ChangeID  string         `json:"change_id"`
	Symbol    string         `json:"symbol"`
	Exchange  string         `json:"exchange"`
	InstType  InstrumentType `json:"inst_type"`
	Action    string         `json:"action"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// BatchResult reports the per-key outcome of a batch registration
type BatchResult struct {
	Key   InstrumentKey `json:"key"`
	Error string        `json:"error,omitempty"`
}
