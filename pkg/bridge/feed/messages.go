package feed

import "telemlink/pkg/protocol"

const (
	OpHello  = "hello"
	OpRecord = "record"
	OpStats  = "stats"
)

// HelloMsg is the first message on every feed connection.
type HelloMsg struct {
	Op        string      `json:"op"`
	Layout    string      `json:"layout"`
	Fields    []FieldInfo `json:"fields"`
	SessionID string      `json:"sessionId"`
}

type FieldInfo struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Offset int    `json:"offset"`
}

// RecordMsg carries one decoded record.
type RecordMsg struct {
	Op     string          `json:"op"`
	Record protocol.Record `json:"record"`
}

// ClientMsg is what a feed client may send. Only {"op":"stats"} is
// answered; anything else is ignored.
type ClientMsg struct {
	Op string `json:"op"`
}

type StatsMsg struct {
	Op           string         `json:"op,omitempty"`
	Layout       string         `json:"layout"`
	Decoder      protocol.Stats `json:"decoder"`
	Buffered     int            `json:"buffered"`
	HubDropped   uint64         `json:"hub_dropped"`
	FeedDropped  uint64         `json:"feed_dropped"`
	Clients      int            `json:"clients"`
	HistoryTotal uint64         `json:"history_total"`
}

func fieldInfos(layout *protocol.FieldLayout) []FieldInfo {
	if layout == nil {
		return []FieldInfo{}
	}
	fields := layout.Fields()
	out := make([]FieldInfo, len(fields))
	for i, f := range fields {
		out[i] = FieldInfo{Name: f.Name, Type: f.Type.String(), Offset: f.Offset}
	}
	return out
}
