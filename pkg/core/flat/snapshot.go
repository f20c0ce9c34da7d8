package flat

import "github.com/sanonone/varanus/pkg/core/distance"

// Dump is the gob-serializable state of an Index. Vector maps are typed
// explicitly so gob round-trips them without widening to float64.
type Dump struct {
	Metric     distance.DistanceMetric
	Precision  distance.PrecisionType
	Dims       int
	VectorsF32 map[uint32][]float32
	VectorsF16 map[uint32][]uint16
}

// Dump copies the index state for snapshotting. The copy is deep, so the
// caller may encode it after the index lock is released.
func (idx *Index) Dump() *Dump {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	d := &Dump{
		Metric:    idx.metric,
		Precision: idx.precision,
		Dims:      idx.dims,
	}
	switch idx.precision {
	case distance.Float32:
		d.VectorsF32 = make(map[uint32][]float32, len(idx.vectorsF32))
		for id, vec := range idx.vectorsF32 {
			cp := make([]float32, len(vec))
			copy(cp, vec)
			d.VectorsF32[id] = cp
		}
	case distance.Float16:
		d.VectorsF16 = make(map[uint32][]uint16, len(idx.vectorsF16))
		for id, bits := range idx.vectorsF16 {
			cp := make([]uint16, len(bits))
			copy(cp, bits)
			d.VectorsF16[id] = cp
		}
	}
	return d
}

// FromDump rebuilds an index from snapshot state. Stored vectors were
// normalized on their original Add, so they are adopted as-is.
func FromDump(d *Dump) (*Index, error) {
	idx, err := New(d.Metric, d.Precision)
	if err != nil {
		return nil, err
	}
	idx.dims = d.Dims

	switch d.Precision {
	case distance.Float32:
		for id, vec := range d.VectorsF32 {
			idx.vectorsF32[id] = vec
		}
	case distance.Float16:
		for id, bits := range d.VectorsF16 {
			idx.vectorsF16[id] = bits
		}
	}
	return idx, nil
}
