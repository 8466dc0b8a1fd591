// Package wgpu provides a pipeline factory backed by gogpu/wgpu.
//
// The Factory compiles WGSL shader sources to SPIR-V via naga, creates
// HAL render pipelines from pipeline keys, and releases them when the
// cache evicts. It plugs into pipecache.Cache as its pipecache.Factory:
//
//	factory, err := wgpu.NewFactory(device, queue, resolveShader)
//	if err != nil {
//	    // handle error
//	}
//	cache, err := pipecache.New(factory, pipecache.Config{Capacity: 256})
//
// Shader modules are cached per source and macro set, so pipelines that
// share shaders reuse the compiled modules.
//
// Device sharing follows the gogpu convention: NewFactoryFromProvider
// accepts a gpucontext.DeviceProvider whose concrete type exposes
// HalDevice() any and HalQueue() any returning wgpu/hal types.
package wgpu
