// Package distance provides the vector distance kernels used by the flat
// embedding index. It supports the Euclidean and Cosine metrics on float32
// and float16 vectors.
//
// The float32 hot paths are backed by Gonum's BLAS implementation, which
// handles SIMD dispatch internally; the pure Go versions remain as reference
// implementations and as the float16 fallback.
package distance

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

// DistanceMetric defines the type of distance calculation to perform.
type DistanceMetric string

// PrecisionType defines the data type used for vector storage.
type PrecisionType string

const (
	// Euclidean represents the squared Euclidean distance metric.
	Euclidean DistanceMetric = "euclidean"
	// Cosine represents the cosine distance metric (1 - cosine similarity).
	// Vectors are expected to be L2-normalized before storage.
	Cosine DistanceMetric = "cosine"

	// Float32 represents single-precision floating-point storage.
	Float32 PrecisionType = "float32"
	// Float16 represents half-precision storage (x448/float16 bits).
	Float16 PrecisionType = "float16"
)

// ErrDimensionMismatch is returned when two vectors of different lengths are compared.
var ErrDimensionMismatch = errors.New("vectors must have the same length")

// Function types for each precision.
type DistanceFuncF32 func(v1, v2 []float32) (float64, error)
type DistanceFuncF16 func(v1, v2 []uint16) (float64, error)

func init() {
	// Override the reference implementations with the Gonum-backed versions.
	// Gonum performs its own SIMD dispatch at runtime.
	float32Funcs[Cosine] = dotProductAsDistanceGonum
	float32Funcs[Euclidean] = squaredEuclideanGonum
}

// diffWorkspace is a pool of float32 slices used to avoid allocations in the
// Euclidean kernel. 384 is the dimension of the default sentence-transformers
// model (all-MiniLM-L6-v2); larger vectors grow the pooled slice once.
var diffWorkspace = sync.Pool{
	New: func() interface{} {
		s := make([]float32, 384)
		return &s
	},
}

// --- Reference implementations (pure Go) ---

func squaredEuclideanGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}
	var sum float32
	for i := range v1 {
		diff := v1[i] - v2[i]
		sum += diff * diff
	}
	return float64(sum), nil
}

// dotProductAsDistanceGo computes 1 - dot(v1, v2). On normalized vectors this
// equals the cosine distance.
func dotProductAsDistanceGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}
	return 1.0 - float64(sum), nil
}

func squaredEuclideanGoFloat16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}
	var sum float32
	for i := range v1 {
		f1 := float16.Frombits(v1[i]).Float32()
		f2 := float16.Frombits(v2[i]).Float32()
		diff := f1 - f2
		sum += diff * diff
	}
	return float64(sum), nil
}

func dotProductAsDistanceGoFloat16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}
	var sum float32
	for i := range v1 {
		sum += float16.Frombits(v1[i]).Float32() * float16.Frombits(v2[i]).Float32()
	}
	return 1.0 - float64(sum), nil
}

// --- Gonum-backed implementations (float32) ---

var gonumEngine = gonum.Implementation{}

func squaredEuclideanGonum(v1, v2 []float32) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, ErrDimensionMismatch
	}
	if n == 0 {
		return 0, nil
	}

	diffPtr := diffWorkspace.Get().(*[]float32)
	defer diffWorkspace.Put(diffPtr)

	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	// diff = v1 - v2, then dot(diff, diff), with no allocations.
	copy(diff, v1)
	gonumEngine.Saxpy(n, -1, v2, 1, diff, 1)
	dot := gonumEngine.Sdot(n, diff, 1, diff, 1)

	return float64(dot), nil
}

func dotProductAsDistanceGonum(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}
	dot := gonumEngine.Sdot(len(v1), v1, 1, v2, 1)
	return 1.0 - float64(dot), nil
}

// --- Function catalogs ---

var float32Funcs = map[DistanceMetric]DistanceFuncF32{
	Euclidean: squaredEuclideanGo,
	Cosine:    dotProductAsDistanceGo,
}

var float16Funcs = map[DistanceMetric]DistanceFuncF16{
	Euclidean: squaredEuclideanGoFloat16,
	Cosine:    dotProductAsDistanceGoFloat16,
}

// GetFloat32Func returns the distance function for a metric at float32
// precision, or an error if the metric is not supported.
func GetFloat32Func(metric DistanceMetric) (DistanceFuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float32 precision", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the distance function for a metric at float16
// precision, or an error if the metric is not supported.
func GetFloat16Func(metric DistanceMetric) (DistanceFuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float16 precision", metric)
	}
	return fn, nil
}

// --- Vector helpers ---

// Normalize scales the vector to unit L2 norm in place and returns it.
// A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	norm := gonumEngine.Snrm2(len(vec), vec, 1)
	if norm == 0 {
		return vec
	}
	gonumEngine.Sscal(len(vec), 1/norm, vec, 1)
	return vec
}

// PackFloat16 converts a float32 vector to its float16 bit representation
// for compressed storage.
func PackFloat16(vec []float32) []uint16 {
	out := make([]uint16, len(vec))
	for i, v := range vec {
		out[i] = float16.Fromfloat32(v).Bits()
	}
	return out
}

// UnpackFloat16 converts stored float16 bits back to float32.
func UnpackFloat16(bits []uint16) []float32 {
	out := make([]float32, len(bits))
	for i, b := range bits {
		out[i] = float16.Frombits(b).Float32()
	}
	return out
}

// ValidMetric reports whether the given metric name is supported.
func ValidMetric(m DistanceMetric) bool {
	_, ok := float32Funcs[m]
	return ok
}

// ValidPrecision reports whether the given precision name is supported.
func ValidPrecision(p PrecisionType) bool {
	return p == Float32 || p == Float16
}

// IsNaNVector reports whether any component of the vector is NaN. Embedding
// providers occasionally emit NaN rows on malformed input; those vectors must
// never enter an index.
func IsNaNVector(vec []float32) bool {
	for _, v := range vec {
		if math.IsNaN(float64(v)) {
			return true
		}
	}
	return false
}
