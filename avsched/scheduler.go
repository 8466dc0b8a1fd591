// Package avsched schedules audio events and visual parameter updates
// for frame-coherent dispatch.
//
// Producers (the audio thread, input devices, worker pools) enqueue from
// any goroutine without blocking; the render loop calls ProcessFrame once
// per frame to drain both queues in priority order, collapse redundant
// visual updates, and report synchronization quality. Overflow degrades
// gracefully: the least important queued event is dropped and reported,
// the loop keeps running.
package avsched

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/frameloop"
)

// Scheduler configuration errors.
var (
	// ErrInvalidQueueDepth is returned by New for a non-positive queue depth.
	ErrInvalidQueueDepth = errors.New("avsched: queue depth must be positive")

	// ErrInvalidBatchSize is returned by New for a non-positive batch size.
	ErrInvalidBatchSize = errors.New("avsched: batch size must be positive")

	// ErrInvalidLatencyConfig is returned by ConfigureLatencyOptimization
	// for negative latencies or a target above the maximum.
	ErrInvalidLatencyConfig = errors.New("avsched: invalid latency configuration")
)

// consistencyWindow is the number of recent ProcessFrame durations used
// for the FrameTimeConsistency and CurrentFrameRate statistics.
const consistencyWindow = 64

// Config configures a Scheduler.
type Config struct {
	// AudioQueueDepth and VisualQueueDepth bound the two queues.
	// Both must be positive.
	AudioQueueDepth  int
	VisualQueueDepth int

	// AudioBatchSize and VisualBatchSize bound how many entries one
	// ProcessFrame drains from each queue. Both must be positive.
	AudioBatchSize  int
	VisualBatchSize int

	// KeepDuplicateVisualUpdates disables the last-writer-wins collapse
	// of same-parameter updates within one frame.
	KeepDuplicateVisualUpdates bool

	// Clock is the time source. Nil selects frameloop.SystemClock.
	Clock frameloop.Clock

	// Metrics receives dispatch counts and overflow alerts. Nil selects
	// frameloop.NopSink.
	Metrics frameloop.MetricsSink
}

// LatencyConfig tunes the scheduler's latency optimization. Changes take
// effect on the next ProcessFrame call; already-queued events are not
// migrated.
type LatencyConfig struct {
	// TargetLatency is the intended queue-to-dispatch latency. With
	// priority boosting enabled, events waiting longer are promoted one
	// priority tier.
	TargetLatency time.Duration

	// MaxLatency bounds acceptable latency. Frames whose processing
	// exceeds it count as dropped for SyncEvent reporting, and the
	// audio-visual offset is normalized against it.
	MaxLatency time.Duration

	// MinIntensity and MinFrequency gate predictive batching: only audio
	// events at or above both thresholds qualify.
	MinIntensity float64
	MinFrequency float64

	// PredictiveBatching dispatches qualifying high-priority audio events
	// ahead of their nominal batching window.
	PredictiveBatching bool

	// PriorityBoosting promotes events that have waited longer than
	// TargetLatency to the next-higher priority tier.
	PriorityBoosting bool
}

// Scheduler decouples event producers from the render loop. Every
// accepted event is dispatched at most once, in priority order, at a
// latency bounded by the queue depth and batch size.
type Scheduler struct {
	clock frameloop.Clock
	sink  frameloop.MetricsSink

	audio  *boundedQueue[AudioEvent]
	visual *boundedQueue[VisualUpdate]

	audioBatch  int
	visualBatch int
	keepDup     bool

	cfgMu   sync.RWMutex
	latency LatencyConfig

	lisMu     sync.RWMutex
	audioLs   []AudioListener
	visualLs  []VisualListener
	syncLs    []SyncListener
	statusLs  []StatusListener

	audioDispatched  atomic.Uint64
	visualDispatched atomic.Uint64
	latencySum       atomic.Int64 // nanoseconds
	latencyCount     atomic.Uint64
	droppedFrames    atomic.Uint64

	statMu       sync.Mutex
	frame        uint64
	procDur      [consistencyWindow]time.Duration
	procIdx      int
	procCount    int
	lastProcess  time.Time
	lastInterval time.Duration
	statsStart   time.Time
}

// New creates a Scheduler. Queue depths and batch sizes are validated,
// never clamped.
func New(cfg Config) (*Scheduler, error) {
	if cfg.AudioQueueDepth <= 0 || cfg.VisualQueueDepth <= 0 {
		return nil, fmt.Errorf("%w: audio=%d visual=%d",
			ErrInvalidQueueDepth, cfg.AudioQueueDepth, cfg.VisualQueueDepth)
	}
	if cfg.AudioBatchSize <= 0 || cfg.VisualBatchSize <= 0 {
		return nil, fmt.Errorf("%w: audio=%d visual=%d",
			ErrInvalidBatchSize, cfg.AudioBatchSize, cfg.VisualBatchSize)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = frameloop.SystemClock()
	}
	sink := cfg.Metrics
	if sink == nil {
		sink = frameloop.NopSink{}
	}

	return &Scheduler{
		clock:       clock,
		sink:        sink,
		audio:       newBoundedQueue[AudioEvent](cfg.AudioQueueDepth),
		visual:      newBoundedQueue[VisualUpdate](cfg.VisualQueueDepth),
		audioBatch:  cfg.AudioBatchSize,
		visualBatch: cfg.VisualBatchSize,
		keepDup:     cfg.KeepDuplicateVisualUpdates,
		statsStart:  clock.Now(),
	}, nil
}

// QueueAudioEvent enqueues an audio event from any goroutine without
// blocking. At capacity the overflow policy drops the least important
// entry and reports it exactly once.
func (s *Scheduler) QueueAudioEvent(ev AudioEvent) bool {
	now := s.clock.Now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	admitted, dropped := s.audio.push(ev, ev.Priority, now)
	if dropped {
		s.reportOverflow(QueueAudio, s.audio.depth())
	}
	return admitted
}

// QueueVisualUpdate enqueues a visual parameter update from any goroutine
// without blocking, with the same overflow behavior as audio events.
func (s *Scheduler) QueueVisualUpdate(u VisualUpdate) bool {
	now := s.clock.Now()
	if u.Timestamp.IsZero() {
		u.Timestamp = now
	}
	admitted, dropped := s.visual.push(u, u.Priority, now)
	if dropped {
		s.reportOverflow(QueueVisual, s.visual.depth())
	}
	return admitted
}

// ProcessFrame drains and dispatches one frame's worth of queued events.
// Call it once per rendered frame from the render loop.
//
// Dispatch runs in priority order (Critical > High > Normal, ties by
// arrival). Visual updates collapse last-writer-wins per parameter before
// dispatch unless duplicates are kept. Each listener call is isolated:
// one panicking listener never prevents the remaining listeners or the
// remaining batch from being processed.
func (s *Scheduler) ProcessFrame() {
	start := s.clock.Now()

	s.cfgMu.RLock()
	lat := s.latency
	s.cfgMu.RUnlock()

	if lat.PriorityBoosting && lat.TargetLatency > 0 {
		cutoff := start.Add(-lat.TargetLatency)
		s.audio.boostOlderThan(cutoff)
		s.visual.boostOlderThan(cutoff)
	}

	visualBatch := s.visual.drain(s.visualBatch, nil)
	if !s.keepDup {
		visualBatch = collapseVisual(visualBatch)
	}

	var predictive func(ev AudioEvent, priority Priority) bool
	if lat.PredictiveBatching {
		predictive = func(ev AudioEvent, priority Priority) bool {
			return priority >= PriorityHigh &&
				ev.Intensity >= lat.MinIntensity &&
				ev.Frequency >= lat.MinFrequency
		}
	}
	audioBatch := s.audio.drain(s.audioBatch, predictive)

	s.lisMu.RLock()
	audioLs := s.audioLs
	visualLs := s.visualLs
	syncLs := s.syncLs
	s.lisMu.RUnlock()

	var visualLatency time.Duration
	for _, it := range visualBatch {
		visualLatency += start.Sub(it.enqueued)
		for _, l := range visualLs {
			u := it.value
			frameloop.Notify(func() { l.HandleVisualUpdate(u) })
		}
	}
	if n := len(visualBatch); n > 0 {
		visualLatency /= time.Duration(n)
		s.visualDispatched.Add(uint64(n))
	}

	var audioLatency time.Duration
	for _, it := range audioBatch {
		d := start.Sub(it.enqueued)
		audioLatency += d
		s.latencySum.Add(int64(d))
		s.latencyCount.Add(1)
		for _, l := range audioLs {
			ev := it.value
			frameloop.Notify(func() { l.HandleAudioEvent(ev) })
		}
	}
	if n := len(audioBatch); n > 0 {
		audioLatency /= time.Duration(n)
		s.audioDispatched.Add(uint64(n))
	}

	end := s.clock.Now()
	procDuration := end.Sub(start)
	if lat.MaxLatency > 0 && procDuration > lat.MaxLatency {
		s.droppedFrames.Add(1)
	}

	s.statMu.Lock()
	s.frame++
	frame := s.frame
	s.procDur[s.procIdx] = procDuration
	s.procIdx = (s.procIdx + 1) % consistencyWindow
	if s.procCount < consistencyWindow {
		s.procCount++
	}
	if !s.lastProcess.IsZero() {
		s.lastInterval = start.Sub(s.lastProcess)
	}
	s.lastProcess = start
	s.statMu.Unlock()

	report := SyncEvent{
		Frame:         frame,
		AudioLatency:  audioLatency,
		SyncAccuracy:  syncAccuracy(audioLatency, visualLatency, lat.MaxLatency),
		DroppedFrames: s.droppedFrames.Load(),
	}
	for _, l := range syncLs {
		frameloop.Notify(func() { l.HandleSyncEvent(report) })
	}

	s.sink.RecordMetric("scheduler", "process_ms",
		float64(procDuration)/float64(time.Millisecond), "ms")
	s.sink.RecordMetric("scheduler", "audio_depth", float64(s.audio.depth()), "events")
	s.sink.RecordMetric("scheduler", "visual_depth", float64(s.visual.depth()), "events")
}

// ConfigureLatencyOptimization replaces the latency tuning. The new
// configuration is applied on the next ProcessFrame; already-queued
// events keep their current priorities.
func (s *Scheduler) ConfigureLatencyOptimization(cfg LatencyConfig) error {
	if cfg.TargetLatency < 0 || cfg.MaxLatency < 0 {
		return fmt.Errorf("%w: negative latency", ErrInvalidLatencyConfig)
	}
	if cfg.MaxLatency > 0 && cfg.TargetLatency > cfg.MaxLatency {
		return fmt.Errorf("%w: target %v exceeds max %v",
			ErrInvalidLatencyConfig, cfg.TargetLatency, cfg.MaxLatency)
	}
	if cfg.MinIntensity < 0 || cfg.MinFrequency < 0 {
		return fmt.Errorf("%w: negative gate", ErrInvalidLatencyConfig)
	}

	s.cfgMu.Lock()
	s.latency = cfg
	s.cfgMu.Unlock()
	return nil
}

// AddAudioListener registers a listener for dispatched audio events.
// Listeners are called in registration order.
func (s *Scheduler) AddAudioListener(l AudioListener) {
	s.lisMu.Lock()
	s.audioLs = append(s.audioLs, l)
	s.lisMu.Unlock()
}

// AddVisualListener registers a listener for dispatched visual updates.
func (s *Scheduler) AddVisualListener(l VisualListener) {
	s.lisMu.Lock()
	s.visualLs = append(s.visualLs, l)
	s.lisMu.Unlock()
}

// AddSyncListener registers a listener for per-frame sync reports.
func (s *Scheduler) AddSyncListener(l SyncListener) {
	s.lisMu.Lock()
	s.syncLs = append(s.syncLs, l)
	s.lisMu.Unlock()
}

// AddStatusListener registers a listener for queue overflow reports.
func (s *Scheduler) AddStatusListener(l StatusListener) {
	s.lisMu.Lock()
	s.statusLs = append(s.statusLs, l)
	s.lisMu.Unlock()
}

// Stats is a snapshot of scheduler statistics.
type Stats struct {
	// AudioEventRate and VisualUpdateRate are dispatched events per
	// second since construction or the last ResetStats.
	AudioEventRate   float64
	VisualUpdateRate float64

	// CurrentFrameRate is derived from the most recent interval between
	// ProcessFrame calls; 0 before two frames have been processed.
	CurrentFrameRate float64

	// FrameTimeConsistency is 1 minus the coefficient of variation of
	// recent frame-processing durations, floored at 0.
	FrameTimeConsistency float64

	// AudioQueueDepth and VisualQueueDepth are current depths.
	AudioQueueDepth  int
	VisualQueueDepth int

	// AverageLatency is the mean queue-to-dispatch latency of all audio
	// events dispatched since the last reset.
	AverageLatency time.Duration
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.statMu.Lock()
	var frameRate float64
	if s.lastInterval > 0 {
		frameRate = float64(time.Second) / float64(s.lastInterval)
	}
	consistency := s.consistencyLocked()
	s.statMu.Unlock()

	elapsed := s.clock.Now().Sub(s.statsStart).Seconds()
	var audioRate, visualRate float64
	if elapsed > 0 {
		audioRate = float64(s.audioDispatched.Load()) / elapsed
		visualRate = float64(s.visualDispatched.Load()) / elapsed
	}

	var avgLatency time.Duration
	if n := s.latencyCount.Load(); n > 0 {
		avgLatency = time.Duration(uint64(s.latencySum.Load()) / n)
	}

	return Stats{
		AudioEventRate:       audioRate,
		VisualUpdateRate:     visualRate,
		CurrentFrameRate:     frameRate,
		FrameTimeConsistency: consistency,
		AudioQueueDepth:      s.audio.depth(),
		VisualQueueDepth:     s.visual.depth(),
		AverageLatency:       avgLatency,
	}
}

// ResetStats zeroes the rate, latency, and drop counters and restarts
// the rate window.
func (s *Scheduler) ResetStats() {
	s.audioDispatched.Store(0)
	s.visualDispatched.Store(0)
	s.latencySum.Store(0)
	s.latencyCount.Store(0)
	s.droppedFrames.Store(0)

	s.statMu.Lock()
	s.procIdx = 0
	s.procCount = 0
	s.lastInterval = 0
	s.statsStart = s.clock.Now()
	s.statMu.Unlock()
}

// consistencyLocked computes 1 - coefficient of variation over the
// retained processing durations. Requires statMu.
func (s *Scheduler) consistencyLocked() float64 {
	if s.procCount < 2 {
		return 1
	}
	var sum float64
	for i := 0; i < s.procCount; i++ {
		sum += s.procDur[i].Seconds()
	}
	mean := sum / float64(s.procCount)
	if mean <= 0 {
		return 1
	}
	var variance float64
	for i := 0; i < s.procCount; i++ {
		diff := s.procDur[i].Seconds() - mean
		variance += diff * diff
	}
	variance /= float64(s.procCount)
	cv := math.Sqrt(variance) / mean
	if cv >= 1 {
		return 0
	}
	return 1 - cv
}

// reportOverflow notifies status listeners and the metrics sink about one
// dropped event. Called exactly once per drop.
func (s *Scheduler) reportOverflow(kind QueueKind, depth int) {
	s.sink.RaiseAlert(frameloop.SeverityWarning,
		fmt.Sprintf("%s queue overflow at depth %d", kind, depth), s.clock.Now())

	s.lisMu.RLock()
	listeners := s.statusLs
	s.lisMu.RUnlock()

	status := QueueStatus{Queue: kind, Overflowing: true, Depth: depth}
	for _, l := range listeners {
		frameloop.Notify(func() { l.QueueStatusChanged(status) })
	}
}

// collapseVisual applies last-writer-wins per parameter: the most recent
// update survives, keeping its position in dispatch order.
func collapseVisual(batch []qitem[VisualUpdate]) []qitem[VisualUpdate] {
	if len(batch) < 2 {
		return batch
	}
	latest := make(map[string]uint64, len(batch))
	for _, it := range batch {
		if seq, ok := latest[it.value.Param]; !ok || it.seq > seq {
			latest[it.value.Param] = it.seq
		}
	}
	out := batch[:0]
	for _, it := range batch {
		if latest[it.value.Param] == it.seq {
			out = append(out, it)
		}
	}
	return out
}

// syncAccuracy normalizes the audio-visual dispatch offset to [0, 1].
func syncAccuracy(audio, visual, maxLatency time.Duration) float64 {
	if maxLatency <= 0 {
		return 1
	}
	offset := audio - visual
	if offset < 0 {
		offset = -offset
	}
	if offset >= maxLatency {
		return 0
	}
	return 1 - float64(offset)/float64(maxLatency)
}
