package message

import (
	"fmt"
	"time"
)

// Processing stage of a content record. Transitions are strictly forward; see
// AdvanceTo.
type Stage string

const (
	StageIngested       Stage = "ingested"
	StagePreFiltered    Stage = "prefiltered"
	StageShortCircuited Stage = "short-circuited"
	StageExtracted      Stage = "extracted"
	StageAnalyzed       Stage = "analyzed"
	StageDecided        Stage = "decided"
	StageQueued         Stage = "queued"
	StageResolved       Stage = "resolved"
)

// allowed forward transitions, keyed by current stage
var stageTransitions = map[Stage][]Stage{
	StageIngested:       {StagePreFiltered},
	StagePreFiltered:    {StageShortCircuited, StageExtracted},
	StageShortCircuited: {StageDecided},
	StageExtracted:      {StageAnalyzed},
	StageAnalyzed:       {StageDecided},
	StageDecided:        {StageQueued},
	StageQueued:         {StageResolved},
	StageResolved:       {},
}

// A message event as delivered by the chat platform gateway. The pipeline
// only reads these; it never mutates or acknowledges them.
type RawMessageEvent struct {
	MessageID string    `json:"message_id"`
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Forwarded bool      `json:"forwarded,omitempty"`
	MediaRefs []string  `json:"media_refs,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Cheap structural features computed by the extractor. All ratios are in
// [0,1] and deterministic for a given normalized text.
type Features struct {
	CapslockRatio   float64
	RepetitionRatio float64
	EmojiDensity    float64
	LinkDensity     float64
}

// One message's moderation-relevant state as it moves through the pipeline.
// Created once at ingestion; fields are append-only after that, and the whole
// record is immutable history once it reaches StageDecided.
type ContentRecord struct {
	ID      string
	GroupID string
	UserID  string

	RawText        string
	NormalizedText string

	Links     []string
	Mentions  []string
	MediaRefs []string
	Forwarded bool

	Features Features

	Stage Stage
	// set when the pipeline budget expired before all analyzers finished
	PartiallyAnalyzed bool

	IngestedAt time.Time
	SentAt     time.Time
}

func NewContentRecord(evt RawMessageEvent) *ContentRecord {
	return &ContentRecord{
		ID:         evt.MessageID,
		GroupID:    evt.GroupID,
		UserID:     evt.UserID,
		RawText:    evt.Text,
		MediaRefs:  evt.MediaRefs,
		Forwarded:  evt.Forwarded,
		Stage:      StageIngested,
		IngestedAt: time.Now().UTC(),
		SentAt:     evt.SentAt,
	}
}

// AdvanceTo moves the record to the next stage, enforcing the forward-only
// state machine. In particular a record can never reach StageDecided without
// passing through StageShortCircuited or StageAnalyzed first.
func (r *ContentRecord) AdvanceTo(next Stage) error {
	for _, allowed := range stageTransitions[r.Stage] {
		if next == allowed {
			r.Stage = next
			return nil
		}
	}
	return fmt.Errorf("invalid stage transition: %s -> %s", r.Stage, next)
}

// Terminal reports whether no further stage transitions are possible, aside
// from review queueing of an already-decided record.
func (r *ContentRecord) Terminal() bool {
	return r.Stage == StageResolved
}
