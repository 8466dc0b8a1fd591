// Package frameloop provides the real-time pacing and synchronization core
// for an interactive rendering application.
//
// # Overview
//
// frameloop keeps a render loop locked to a target frame rate while
// coordinating CPU-side work, GPU command submission, a cache of compiled
// pipeline configurations, and a dual-stream scheduler that aligns audio
// events with visual parameter updates.
//
// # Quick Start
//
//	import "github.com/gogpu/frameloop"
//
//	engine, err := frameloop.New(frameloop.Config{
//	    TargetFPS:   60,
//	    MaxInFlight: 2,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for running {
//	    token, err := engine.BeginFrame(ctx)
//	    if err != nil {
//	        break
//	    }
//	    fence := render(token) // submit GPU work, returns a Fence
//	    engine.EndFrame(token, fence)
//	    engine.WaitNextFrame(ctx)
//	}
//
// # Architecture
//
// The library is organized into:
//   - Root package: FramePacer, Synchronizer, Engine, listener surface
//   - pipecache: thread-safe pipeline-state cache with LRU eviction
//   - avsched: audio-visual queue scheduler with priority dispatch
//   - backend/wgpu: pipeline factory collaborator over gogpu/wgpu
//   - promsink: Prometheus-backed metrics sink
//
// # Threading Model
//
// Exactly one render-loop goroutine drives BeginFrame, ProcessFrame, and
// EndFrame per frame. Producers (audio capture, input devices, worker pools)
// enqueue events and query the pipeline cache concurrently; none of those
// paths block on the render loop. BeginFrame is the only blocking operation,
// bounded by the configured maximum of in-flight frames.
//
// # Logging
//
// By default frameloop produces no log output. Call SetLogger to enable:
//
//	frameloop.SetLogger(slog.Default())
package frameloop
