package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntryType is the closed set of entry categories. Anything unrecognised is EntryGeneric.
type EntryType string

const (
	EntryTelemetry        EntryType = "telemetry"
	EntryCourseProgress   EntryType = "course_progress"
	EntryCourseAssessment EntryType = "course_assessment"
	EntryGeneric          EntryType = "generic"
)

// ParseEntryType maps a stored tag to an EntryType. Rows without a tag are classified by request path.
func ParseEntryType(tag, path string) EntryType {
	switch t := EntryType(strings.ToLower(strings.TrimSpace(tag))); t {
	case EntryTelemetry, EntryCourseProgress, EntryCourseAssessment:
		return t
	case "":
		if strings.Contains(path, "telemetry") {
			return EntryTelemetry
		}
		return EntryGeneric
	default:
		return EntryGeneric
	}
}

// EntryConfig holds per-entry flags.
type EntryConfig struct {
	ShouldPublishResult bool `json:"shouldPublishResult"`
}

// QueueRow is the raw persisted shape of a queue entry.
type QueueRow struct {
	ID        int64  `json:"_id"`
	MsgID     string `json:"msg_id"`
	Type      string `json:"type"`
	Priority  int    `json:"priority"`
	ItemCount int    `json:"item_count"`
	Timestamp int64  `json:"timestamp"`
	Config    string `json:"config"`
	Request   string `json:"request"`
}

// QueueEntry is the durable unit of work. Seq is the store-assigned insertion sequence.
type QueueEntry struct {
	ID         string
	Seq        int64
	Type       EntryType
	Priority   int
	Timestamp  time.Time
	Config     EntryConfig
	EventCount int
	Request    Request
}

// EntryFromRow decodes a stored row. A malformed request is an error; a malformed config falls back to defaults.
func EntryFromRow(row QueueRow) (QueueEntry, error) {
	var req Request
	if err := json.Unmarshal([]byte(row.Request), &req); err != nil {
		return QueueEntry{}, fmt.Errorf("decode request of %s: %w", row.MsgID, err)
	}

	var cfg EntryConfig
	if strings.TrimSpace(row.Config) != "" {
		_ = json.Unmarshal([]byte(row.Config), &cfg)
	}

	return QueueEntry{
		ID:         row.MsgID,
		Seq:        row.ID,
		Type:       ParseEntryType(row.Type, req.Path),
		Priority:   row.Priority,
		Timestamp:  time.UnixMilli(row.Timestamp),
		Config:     cfg,
		EventCount: row.ItemCount,
		Request:    req,
	}, nil
}

// EncodeRequest serialises a request for the request column.
func EncodeRequest(req Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return string(raw), nil
}

// servedBefore is the single serving order: priority, then insertion sequence.
func servedBefore(priority int, seq int64, otherPriority int, otherSeq int64) bool {
	if priority != otherPriority {
		return priority < otherPriority
	}
	return seq < otherSeq
}

// Less orders entries by priority, then by insertion sequence.
func (e QueueEntry) Less(other QueueEntry) bool {
	return servedBefore(e.Priority, e.Seq, other.Priority, other.Seq)
}

// Less orders raw rows the same way their decoded entries are served.
func (r QueueRow) Less(other QueueRow) bool {
	return servedBefore(r.Priority, r.ID, other.Priority, other.ID)
}

// RowFromEntry encodes an entry back into its stored shape.
func RowFromEntry(e QueueEntry) (QueueRow, error) {
	req, err := EncodeRequest(e.Request)
	if err != nil {
		return QueueRow{}, err
	}
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return QueueRow{}, fmt.Errorf("encode config: %w", err)
	}
	var ts int64
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.UnixMilli()
	}
	return QueueRow{
		ID:        e.Seq,
		MsgID:     e.ID,
		Type:      string(e.Type),
		Priority:  e.Priority,
		ItemCount: e.EventCount,
		Timestamp: ts,
		Config:    string(cfg),
		Request:   req,
	}, nil
}
