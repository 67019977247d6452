package models

import (
	"encoding/json"
	"fmt"
)

const (
	EventErrorBadRequest   = "BAD_REQUEST"
	EventErrorNetworkError = "NETWORK_ERROR"
)

// SyncEvent is the terminal outcome delivered to subscribers. Exactly one of the fields is set.
type SyncEvent struct {
	SyncedEventCount        *int            `json:"syncedEventCount,omitempty"`
	CourseProgressResponse  json.RawMessage `json:"courseProgressResponse,omitempty"`
	CourseAssesmentResponse json.RawMessage `json:"courseAssesmentResponse,omitempty"`
	Error                   string          `json:"error,omitempty"`
}

// ErrorEvent builds an error payload.
func ErrorEvent(code string) *SyncEvent {
	return &SyncEvent{Error: code}
}

// SuccessEvent shapes the success payload for the entry's type.
func SuccessEvent(entry QueueEntry, body string) (*SyncEvent, error) {
	switch entry.Type {
	case EntryCourseProgress:
		result, err := resultField(body)
		if err != nil {
			return nil, err
		}
		return &SyncEvent{CourseProgressResponse: result}, nil
	case EntryCourseAssessment:
		result, err := resultField(body)
		if err != nil {
			return nil, err
		}
		return &SyncEvent{CourseAssesmentResponse: result}, nil
	case EntryTelemetry, EntryGeneric:
		count := entry.EventCount
		return &SyncEvent{SyncedEventCount: &count}, nil
	default:
		return nil, fmt.Errorf("no success event for entry type %q", entry.Type)
	}
}

func resultField(body string) (json.RawMessage, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return nil, fmt.Errorf("decode response result: %w", err)
	}
	if len(envelope.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return envelope.Result, nil
}

// Kind is a short label for metrics and logs.
func (e *SyncEvent) Kind() string {
	switch {
	case e == nil:
		return "none"
	case e.Error != "":
		return e.Error
	case e.SyncedEventCount != nil:
		return "synced_event_count"
	case e.CourseProgressResponse != nil:
		return "course_progress"
	case e.CourseAssesmentResponse != nil:
		return "course_assessment"
	default:
		return "empty"
	}
}

// Clone returns a deep copy so every listener owns its event.
func (e *SyncEvent) Clone() *SyncEvent {
	if e == nil {
		return nil
	}
	out := &SyncEvent{Error: e.Error}
	if e.SyncedEventCount != nil {
		n := *e.SyncedEventCount
		out.SyncedEventCount = &n
	}
	if e.CourseProgressResponse != nil {
		out.CourseProgressResponse = append(json.RawMessage(nil), e.CourseProgressResponse...)
	}
	if e.CourseAssesmentResponse != nil {
		out.CourseAssesmentResponse = append(json.RawMessage(nil), e.CourseAssesmentResponse...)
	}
	return out
}
