package distance

import (
	"math"
	"testing"
)

const epsilon = 1e-5

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestSquaredEuclidean(t *testing.T) {
	testCases := []struct {
		name     string
		v1, v2   []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0.0},
		{"unit apart", []float32{0, 0}, []float32{1, 0}, 1.0},
		{"mixed signs", []float32{1, -1}, []float32{-1, 1}, 8.0},
		{"empty", []float32{}, []float32{}, 0.0},
	}

	fn, err := GetFloat32Func(Euclidean)
	if err != nil {
		t.Fatalf("GetFloat32Func(Euclidean) failed: %v", err)
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fn(tc.v1, tc.v2)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !almostEqual(got, tc.expected) {
				t.Errorf("expected %f, got %f", tc.expected, got)
			}

			// The Gonum kernel and the pure Go reference must agree.
			ref, _ := squaredEuclideanGo(tc.v1, tc.v2)
			if !almostEqual(got, ref) {
				t.Errorf("gonum (%f) and reference (%f) disagree", got, ref)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	// Cosine operates on normalized vectors: distance = 1 - dot.
	testCases := []struct {
		name     string
		v1, v2   []float32
		expected float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2.0},
	}

	fn, err := GetFloat32Func(Cosine)
	if err != nil {
		t.Fatalf("GetFloat32Func(Cosine) failed: %v", err)
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fn(tc.v1, tc.v2)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !almostEqual(got, tc.expected) {
				t.Errorf("expected %f, got %f", tc.expected, got)
			}
		})
	}
}

func TestDimensionMismatch(t *testing.T) {
	for _, metric := range []DistanceMetric{Euclidean, Cosine} {
		fn, err := GetFloat32Func(metric)
		if err != nil {
			t.Fatalf("GetFloat32Func(%s) failed: %v", metric, err)
		}
		if _, err := fn([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
			t.Errorf("metric %s: expected error for mismatched dimensions, got nil", metric)
		}
	}
}

func TestFloat16Roundtrip(t *testing.T) {
	original := []float32{0.0, 1.0, -1.0, 0.5, 0.333, -0.125}
	packed := PackFloat16(original)
	unpacked := UnpackFloat16(packed)

	if len(unpacked) != len(original) {
		t.Fatalf("length changed in roundtrip: %d -> %d", len(original), len(unpacked))
	}
	for i := range original {
		// Half precision keeps ~3 decimal digits.
		if math.Abs(float64(original[i]-unpacked[i])) > 1e-3 {
			t.Errorf("index %d: %f -> %f exceeds float16 tolerance", i, original[i], unpacked[i])
		}
	}
}

func TestFloat16Distances(t *testing.T) {
	v1 := PackFloat16([]float32{1, 0, 0})
	v2 := PackFloat16([]float32{0, 1, 0})

	eucl, err := GetFloat16Func(Euclidean)
	if err != nil {
		t.Fatalf("GetFloat16Func(Euclidean) failed: %v", err)
	}
	got, err := eucl(v1, v2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got, 2.0) {
		t.Errorf("expected euclidean 2.0, got %f", got)
	}

	cos, err := GetFloat16Func(Cosine)
	if err != nil {
		t.Fatalf("GetFloat16Func(Cosine) failed: %v", err)
	}
	got, err = cos(v1, v2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got, 1.0) {
		t.Errorf("expected cosine 1.0, got %f", got)
	}
}

func TestNormalize(t *testing.T) {
	vec := Normalize([]float32{3, 4})
	if !almostEqual(float64(vec[0]), 0.6) || !almostEqual(float64(vec[1]), 0.8) {
		t.Errorf("expected [0.6 0.8], got %v", vec)
	}

	// A zero vector must come back unchanged, not NaN.
	zero := Normalize([]float32{0, 0, 0})
	for i, v := range zero {
		if v != 0 {
			t.Errorf("zero vector changed at %d: %f", i, v)
		}
	}
}

func TestIsNaNVector(t *testing.T) {
	if IsNaNVector([]float32{1, 2, 3}) {
		t.Error("clean vector reported as NaN")
	}
	if !IsNaNVector([]float32{1, float32(math.NaN()), 3}) {
		t.Error("NaN vector not detected")
	}
}
