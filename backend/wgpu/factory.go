package wgpu

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/frameloop"
	"github.com/gogpu/frameloop/pipecache"
)

// Factory errors.
var (
	// ErrNilDevice is returned by NewFactory when the device is nil.
	ErrNilDevice = errors.New("wgpu: nil device")

	// ErrNilResolver is returned by NewFactory when the shader source
	// resolver is nil.
	ErrNilResolver = errors.New("wgpu: nil shader source resolver")

	// ErrNoHALDevice is returned by NewFactoryFromProvider when the
	// provider does not expose wgpu/hal types.
	ErrNoHALDevice = errors.New("wgpu: provider does not expose HAL types")
)

// pipelineBaseSize approximates the driver-side footprint of a compiled
// render pipeline, added to the shader bytecode sizes for cache
// accounting.
const pipelineBaseSize = 64 * 1024

// ShaderSourceFunc resolves a shader identifier from a pipeline key to
// WGSL source. Macros carry the preprocessor definitions of the key; the
// resolver decides how to apply them (textual substitution, override
// constants, source selection).
type ShaderSourceFunc func(id string, macros []pipecache.Macro) (string, error)

// PipelineState is the compiled pipeline handle produced by the Factory.
// It wraps the HAL render pipeline together with its shader modules'
// estimated size.
type PipelineState struct {
	pipeline hal.RenderPipeline
	label    string
	size     uint64
	released atomic.Bool
}

// Raw returns the underlying HAL render pipeline, or nil after release.
func (p *PipelineState) Raw() hal.RenderPipeline {
	if p.released.Load() {
		return nil
	}
	return p.pipeline
}

// Label returns the pipeline's debug label.
func (p *PipelineState) Label() string { return p.label }

// shaderEntry is one compiled shader module, cached per source id and
// macro set.
type shaderEntry struct {
	module hal.ShaderModule
	size   uint64
}

// Factory creates and destroys HAL render pipelines from pipeline keys.
// It is safe for concurrent use; shader compilation for distinct keys
// may proceed in parallel.
type Factory struct {
	device  hal.Device
	queue   hal.Queue
	resolve ShaderSourceFunc

	mu      sync.Mutex
	shaders map[string]*shaderEntry
	closed  bool
}

// NewFactory creates a pipeline factory for the given device and queue.
// The resolver maps the shader identifiers found in pipeline keys to
// WGSL source.
func NewFactory(device hal.Device, queue hal.Queue, resolve ShaderSourceFunc) (*Factory, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if resolve == nil {
		return nil, ErrNilResolver
	}
	return &Factory{
		device:  device,
		queue:   queue,
		resolve: resolve,
		shaders: make(map[string]*shaderEntry),
	}, nil
}

// NewFactoryFromProvider creates a factory sharing the GPU device of a
// gpucontext.DeviceProvider. The provider's concrete type must expose
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
func NewFactoryFromProvider(provider gpucontext.DeviceProvider, resolve ShaderSourceFunc) (*Factory, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALDevice
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALDevice)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALDevice)
	}
	return NewFactory(device, queue, resolve)
}

// CreatePipelineState compiles the shaders named by the key and creates
// a render pipeline matching the key's fixed-function state.
func (f *Factory) CreatePipelineState(key *pipecache.Key) (pipecache.Handle, error) {
	vs, err := f.shaderModule(key.VertexShader, key.Macros)
	if err != nil {
		return nil, fmt.Errorf("wgpu: vertex shader %q: %w", key.VertexShader, err)
	}
	ps, err := f.shaderModule(key.PixelShader, key.Macros)
	if err != nil {
		return nil, fmt.Errorf("wgpu: pixel shader %q: %w", key.PixelShader, err)
	}

	sampleCount := key.SampleCount
	if sampleCount == 0 {
		sampleCount = 1
	}

	label := key.VertexShader + "+" + key.PixelShader
	blend := gputypes.BlendStatePremultiplied()
	desc := &hal.RenderPipelineDescriptor{
		Label: label,
		Vertex: hal.VertexState{
			Module:     vs.module,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     ps.module,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    key.ColorFormat,
					Blend:     &blend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: key.Topology,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: sampleCount,
			Mask:  0xFFFFFFFF,
		},
	}
	if key.DepthFormat != gputypes.TextureFormatUndefined {
		desc.DepthStencil = &hal.DepthStencilState{
			Format:            key.DepthFormat,
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionLess,
		}
	}

	pipeline, err := f.device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("wgpu: create render pipeline %q: %w", label, err)
	}

	return &PipelineState{
		pipeline: pipeline,
		label:    label,
		size:     pipelineBaseSize + vs.size + ps.size,
	}, nil
}

// ReleasePipelineState destroys a pipeline created by this factory.
// Releasing twice, or releasing a foreign handle, is a logged no-op.
func (f *Factory) ReleasePipelineState(handle pipecache.Handle) {
	state, ok := handle.(*PipelineState)
	if !ok || state == nil {
		frameloop.Logger().Warn("release of foreign pipeline handle")
		return
	}
	if !state.released.CompareAndSwap(false, true) {
		frameloop.Logger().Warn("double release of pipeline", "label", state.label)
		return
	}
	f.device.DestroyRenderPipeline(state.pipeline)
}

// EstimateSize returns the approximate GPU memory footprint of a
// pipeline handle, in bytes. Foreign handles report zero.
func (f *Factory) EstimateSize(handle pipecache.Handle) uint64 {
	state, ok := handle.(*PipelineState)
	if !ok || state == nil {
		return 0
	}
	return state.size
}

// Destroy releases all cached shader modules. Pipelines already handed
// out remain valid; release them through the cache before destroying
// the factory.
func (f *Factory) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, e := range f.shaders {
		f.device.DestroyShaderModule(e.module)
	}
	f.shaders = nil
}

// shaderModule returns the cached module for a source id and macro set,
// compiling it on first use.
func (f *Factory) shaderModule(id string, macros []pipecache.Macro) (*shaderEntry, error) {
	cacheKey := shaderCacheKey(id, macros)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("factory destroyed")
	}
	if e, ok := f.shaders[cacheKey]; ok {
		return e, nil
	}

	source, err := f.resolve(id, macros)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}

	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}

	module, err := f.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: id,
		Source: hal.ShaderSource{
			SPIRV: spirvWords(spirvBytes),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create shader module: %w", err)
	}

	e := &shaderEntry{module: module, size: uint64(len(spirvBytes))}
	f.shaders[cacheKey] = e
	return e, nil
}

// shaderCacheKey combines a source id with an order-independent hash of
// the macro set.
func shaderCacheKey(id string, macros []pipecache.Macro) string {
	if len(macros) == 0 {
		return id
	}
	var fold uint64
	for _, m := range macros {
		h := fnv.New64a()
		_, _ = h.Write([]byte(m.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(m.Value))
		fold ^= h.Sum64()
	}
	return fmt.Sprintf("%s#%016x", id, fold)
}

// spirvWords converts SPIR-V bytes to the little-endian word slice the
// HAL expects.
func spirvWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return words
}
