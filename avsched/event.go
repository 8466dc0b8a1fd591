package avsched

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders queued events for dispatch. Higher priorities dispatch
// first; ties break by arrival order.
type Priority int32

// Dispatch priorities.
const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// boost returns the next-higher priority tier. Critical stays Critical.
func (p Priority) boost() Priority {
	if p < PriorityCritical {
		return p + 1
	}
	return p
}

// AudioEventType classifies an audio analysis event.
type AudioEventType int

// Audio event types.
const (
	AudioLevel AudioEventType = iota
	AudioBeat
	AudioOnset
	AudioCustom
)

// String returns the lowercase name of the event type.
func (t AudioEventType) String() string {
	switch t {
	case AudioLevel:
		return "level"
	case AudioBeat:
		return "beat"
	case AudioOnset:
		return "onset"
	case AudioCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// AudioEvent is one audio analysis event produced by the audio thread.
// Each accepted event is dispatched exactly once, during the ProcessFrame
// call of the frame in which it becomes eligible.
type AudioEvent struct {
	ID        uuid.UUID
	Timestamp time.Time
	Priority  Priority
	Intensity float64
	Frequency float64
	Type      AudioEventType
}

// NewAudioEvent creates an audio event with a fresh ID. The timestamp is
// assigned at enqueue time if left zero.
func NewAudioEvent(t AudioEventType, intensity, frequency float64, priority Priority) AudioEvent {
	return AudioEvent{
		ID:        uuid.New(),
		Priority:  priority,
		Intensity: intensity,
		Frequency: frequency,
		Type:      t,
	}
}

// VisualUpdate is one visual parameter change. Multiple updates to the
// same parameter within a frame's batching window collapse to the most
// recent value unless the scheduler is configured to keep duplicates.
type VisualUpdate struct {
	Param     string
	Value     float64
	Timestamp time.Time
	Priority  Priority
}

// SyncEvent reports the audio-visual synchronization quality of one
// processed frame.
type SyncEvent struct {
	// Frame is the scheduler's frame counter.
	Frame uint64

	// AudioLatency is the mean queue-to-dispatch latency of the audio
	// events dispatched this frame.
	AudioLatency time.Duration

	// SyncAccuracy is 1 minus the normalized audio-visual offset, in
	// [0, 1]. 1 means audio and visual dispatch latencies matched.
	SyncAccuracy float64

	// DroppedFrames counts frames whose processing exceeded the
	// configured maximum latency.
	DroppedFrames uint64
}

// QueueKind identifies one of the scheduler's two queues.
type QueueKind int

// Scheduler queues.
const (
	QueueAudio QueueKind = iota
	QueueVisual
)

// String returns the lowercase name of the queue.
func (k QueueKind) String() string {
	switch k {
	case QueueAudio:
		return "audio"
	case QueueVisual:
		return "visual"
	default:
		return "unknown"
	}
}

// QueueStatus describes a queue's overflow state, delivered to
// StatusListeners when an enqueue drops an event.
type QueueStatus struct {
	Queue       QueueKind
	Overflowing bool
	Depth       int
}

// AudioListener receives dispatched audio events.
type AudioListener interface {
	HandleAudioEvent(ev AudioEvent)
}

// VisualListener receives dispatched visual parameter updates.
type VisualListener interface {
	HandleVisualUpdate(u VisualUpdate)
}

// SyncListener receives per-frame synchronization quality reports.
type SyncListener interface {
	HandleSyncEvent(ev SyncEvent)
}

// StatusListener receives queue overflow notifications.
type StatusListener interface {
	QueueStatusChanged(status QueueStatus)
}
