// Package flat implements an exact, full-scan vector index keyed by entry ID.
//
// FAQ collections hold hundreds to a few tens of thousands of entries, a
// scale where a brute-force scan with BLAS-backed kernels is both exact and
// fast enough; the index trades sublinear search for zero maintenance cost
// on insert and delete.
package flat

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sanonone/varanus/pkg/core/distance"
	"github.com/sanonone/varanus/pkg/core/types"
)

// Index stores one vector per entry ID and answers nearest-neighbor queries
// by scanning every stored vector. It is safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	metric    distance.DistanceMetric
	precision distance.PrecisionType
	dims      int

	distF32 distance.DistanceFuncF32
	distF16 distance.DistanceFuncF16

	// Exactly one of the two maps is populated, selected by precision.
	vectorsF32 map[uint32][]float32
	vectorsF16 map[uint32][]uint16
}

// New creates an empty index for the given metric and precision. Dimensions
// are fixed by the first vector added.
func New(metric distance.DistanceMetric, precision distance.PrecisionType) (*Index, error) {
	if !distance.ValidMetric(metric) {
		return nil, fmt.Errorf("unsupported metric '%s'", metric)
	}
	if !distance.ValidPrecision(precision) {
		return nil, fmt.Errorf("unsupported precision '%s'", precision)
	}

	idx := &Index{
		metric:    metric,
		precision: precision,
	}

	var err error
	switch precision {
	case distance.Float32:
		idx.vectorsF32 = make(map[uint32][]float32)
		idx.distF32, err = distance.GetFloat32Func(metric)
	case distance.Float16:
		idx.vectorsF16 = make(map[uint32][]uint16)
		idx.distF16, err = distance.GetFloat16Func(metric)
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Metric returns the distance metric of the index.
func (idx *Index) Metric() distance.DistanceMetric { return idx.metric }

// Precision returns the storage precision of the index.
func (idx *Index) Precision() distance.PrecisionType { return idx.precision }

// Dimensions returns the vector dimensionality, or 0 before the first Add.
func (idx *Index) Dimensions() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dims
}

// Len returns the number of stored vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.precision == distance.Float16 {
		return len(idx.vectorsF16)
	}
	return len(idx.vectorsF32)
}

// Add stores a vector under the given entry ID, replacing any previous
// vector for that ID (entries get re-embedded when their question changes).
// For the cosine metric the stored copy is L2-normalized.
func (idx *Index) Add(id uint32, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for id %d", id)
	}
	if distance.IsNaNVector(vector) {
		return fmt.Errorf("vector for id %d contains NaN", id)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dims == 0 {
		idx.dims = len(vector)
	} else if len(vector) != idx.dims {
		return fmt.Errorf("vector for id %d has %d dimensions, index has %d", id, len(vector), idx.dims)
	}

	// The index owns its storage; never alias the caller's slice.
	stored := make([]float32, len(vector))
	copy(stored, vector)
	if idx.metric == distance.Cosine {
		distance.Normalize(stored)
	}

	switch idx.precision {
	case distance.Float32:
		idx.vectorsF32[id] = stored
	case distance.Float16:
		idx.vectorsF16[id] = distance.PackFloat16(stored)
	}
	return nil
}

// Delete removes the vector for an entry ID, reporting whether one existed.
func (idx *Index) Delete(id uint32) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	switch idx.precision {
	case distance.Float32:
		if _, ok := idx.vectorsF32[id]; ok {
			delete(idx.vectorsF32, id)
			return true
		}
	case distance.Float16:
		if _, ok := idx.vectorsF16[id]; ok {
			delete(idx.vectorsF16, id)
			return true
		}
	}
	return false
}

// Vector returns a float32 copy of the stored vector for an entry ID.
func (idx *Index) Vector(id uint32) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	switch idx.precision {
	case distance.Float32:
		if vec, ok := idx.vectorsF32[id]; ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			return out, true
		}
	case distance.Float16:
		if bits, ok := idx.vectorsF16[id]; ok {
			return distance.UnpackFloat16(bits), true
		}
	}
	return nil, false
}

// SearchWithScores scans every stored vector and returns the k nearest to
// the query, sorted by ascending distance. When allowList is non-nil only
// IDs present in it are considered. The query is normalized for cosine
// indexes; it is never mutated.
func (idx *Index) SearchWithScores(query []float32, k int, allowList map[uint32]struct{}) ([]types.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.dims == 0 {
		return nil, nil
	}
	if len(query) != idx.dims {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(query), idx.dims)
	}

	q := query
	if idx.metric == distance.Cosine {
		q = make([]float32, len(query))
		copy(q, query)
		distance.Normalize(q)
	}

	var results []types.SearchResult
	switch idx.precision {
	case distance.Float32:
		results = make([]types.SearchResult, 0, len(idx.vectorsF32))
		for id, vec := range idx.vectorsF32 {
			if allowList != nil {
				if _, ok := allowList[id]; !ok {
					continue
				}
			}
			dist, err := idx.distF32(q, vec)
			if err != nil {
				return nil, err
			}
			results = append(results, types.SearchResult{DocID: id, Score: dist})
		}
	case distance.Float16:
		qF16 := distance.PackFloat16(q)
		results = make([]types.SearchResult, 0, len(idx.vectorsF16))
		for id, bits := range idx.vectorsF16 {
			if allowList != nil {
				if _, ok := allowList[id]; !ok {
					continue
				}
			}
			dist, err := idx.distF16(qF16, bits)
			if err != nil {
				return nil, err
			}
			results = append(results, types.SearchResult{DocID: id, Score: dist})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
