package domain

import "time"

// TelemetryTopic is the bus topic carrying one Sample per producer tick.
const TelemetryTopic = "telemetry.updates"

// Sample is a single telemetry reading emitted by a producer source.
type Sample struct {
	SourceID   string    `json:"sourceId"`
	Value      float64   `json:"value"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Record is the append-only persisted form of a Sample, unique by
// (SourceID, CapturedAt).
type Record struct {
	SourceID   string    `json:"sourceId"`
	Value      float64   `json:"value"`
	CapturedAt time.Time `json:"capturedAt"`
}

// RecordFromSample converts a received sample into its stored form.
func RecordFromSample(s Sample) Record {
	return Record{SourceID: s.SourceID, Value: s.Value, CapturedAt: s.CapturedAt}
}

// CachedResponse is the last successful upstream payload kept by the gateway.
type CachedResponse struct {
	Payload    []byte
	CapturedAt time.Time
}
