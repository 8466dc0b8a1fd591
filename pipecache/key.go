package pipecache

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"

	"github.com/gogpu/gputypes"
)

// Macro is a shader preprocessor definition baked into a compiled
// pipeline. Macro order carries no meaning: keys whose macro sets are
// permutations of each other compare equal and hash identically.
type Macro struct {
	Name  string
	Value string
}

// Param is a material parameter that affects pipeline shape (not every
// material parameter belongs here, only those baked into compiled state).
// Like macros, params are an unordered set.
type Param struct {
	Name  string
	Value float64
}

// Key identifies one compiled pipeline configuration: shaders, fixed
// function state, and the macro/parameter values baked into compiled
// state. Two keys are equal iff all fields compare equal.
type Key struct {
	// VertexShader and PixelShader identify shader sources, as paths or
	// content hashes.
	VertexShader string
	PixelShader  string

	// Topology is the primitive assembly mode.
	Topology gputypes.PrimitiveTopology

	// ColorFormat and DepthFormat are the render-target formats.
	// DepthFormat may be gputypes.TextureFormatUndefined.
	ColorFormat gputypes.TextureFormat
	DepthFormat gputypes.TextureFormat

	// SampleCount is the MSAA sample count (1 for no multisampling).
	SampleCount uint32

	// Macros are the shader defines, order-independent.
	Macros []Macro

	// Params are the shape-affecting material parameters, order-independent.
	Params []Param
}

// Hash computes an FNV-1a hash consistent with Equal: equal keys always
// produce equal hashes, including across macro and param orderings.
func (k *Key) Hash() uint64 {
	h := fnv.New64a()

	hashWriteString(h, k.VertexShader)
	hashWriteString(h, k.PixelShader)
	hashWriteUint32(h, uint32(k.Topology))
	hashWriteUint32(h, uint32(k.ColorFormat))
	hashWriteUint32(h, uint32(k.DepthFormat))
	hashWriteUint32(h, k.SampleCount)

	// Unordered collections fold in as an XOR of per-element hashes so
	// the result is permutation-invariant.
	var macroFold uint64
	for i := range k.Macros {
		mh := fnv.New64a()
		hashWriteString(mh, k.Macros[i].Name)
		hashWriteString(mh, k.Macros[i].Value)
		macroFold ^= mh.Sum64()
	}
	hashWriteUint64(h, macroFold)

	var paramFold uint64
	for i := range k.Params {
		ph := fnv.New64a()
		hashWriteString(ph, k.Params[i].Name)
		hashWriteUint64(ph, math.Float64bits(k.Params[i].Value))
		paramFold ^= ph.Sum64()
	}
	hashWriteUint64(h, paramFold)

	return h.Sum64()
}

// Equal reports whether two keys identify the same pipeline
// configuration. Macros and params compare as multisets.
func (k *Key) Equal(o *Key) bool {
	if k == o {
		return true
	}
	if k == nil || o == nil {
		return false
	}
	if k.VertexShader != o.VertexShader ||
		k.PixelShader != o.PixelShader ||
		k.Topology != o.Topology ||
		k.ColorFormat != o.ColorFormat ||
		k.DepthFormat != o.DepthFormat ||
		k.SampleCount != o.SampleCount {
		return false
	}
	if !equalMacroSets(k.Macros, o.Macros) {
		return false
	}
	return equalParamSets(k.Params, o.Params)
}

// Clone returns a deep copy of the key. The cache stores clones so later
// caller-side mutation of a key's slices cannot corrupt cache lookups.
func (k *Key) Clone() *Key {
	c := *k
	if len(k.Macros) > 0 {
		c.Macros = append([]Macro(nil), k.Macros...)
	}
	if len(k.Params) > 0 {
		c.Params = append([]Param(nil), k.Params...)
	}
	return &c
}

func equalMacroSets(a, b []Macro) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	counts := make(map[Macro]int, len(a))
	for _, m := range a {
		counts[m]++
	}
	for _, m := range b {
		counts[m]--
		if counts[m] < 0 {
			return false
		}
	}
	return true
}

func equalParamSets(a, b []Param) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	counts := make(map[Param]int, len(a))
	for _, p := range a {
		counts[p]++
	}
	for _, p := range b {
		counts[p]--
		if counts[p] < 0 {
			return false
		}
	}
	return true
}

// Hash helpers, FNV-1a little-endian field encoding.

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}
