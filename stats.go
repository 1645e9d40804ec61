package minibase

import (
	"fmt"

	boom "github.com/tylertreat/BoomFilters"
)

// BoolOp is the closed set of comparison operators a histogram can
// estimate selectivity for.
type BoolOp int

const (
	OpEq BoolOp = iota
	OpLt
	OpLtEq
	OpGt
	OpGtEq
)

// IntHistogram is a fixed-bucket histogram over a single int64 column,
// used to estimate predicate selectivity without scanning the table.
type IntHistogram struct {
	buckets []int64
	min, max int64
	width    float64
	count    int64
}

// NewIntHistogram creates a histogram with nBins buckets covering
// [vMin, vMax] inclusive.
func NewIntHistogram(nBins int, vMin, vMax int64) (*IntHistogram, error) {
	if nBins <= 0 {
		return nil, fmt.Errorf("nBins must be positive, got %d", nBins)
	}
	if vMax < vMin {
		vMax = vMin
	}
	width := float64(vMax-vMin+1) / float64(nBins)
	if width <= 0 {
		width = 1
	}
	return &IntHistogram{
		buckets: make([]int64, nBins),
		min:     vMin,
		max:     vMax,
		width:   width,
	}, nil
}

func (h *IntHistogram) bucketOf(v int64) int {
	idx := int(float64(v-h.min) / h.width)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(h.buckets) {
		idx = len(h.buckets) - 1
	}
	return idx
}

// AddValue records one occurrence of v.
func (h *IntHistogram) AddValue(v int64) {
	h.buckets[h.bucketOf(v)]++
	h.count++
}

// EstimateSelectivity returns the fraction of recorded values for which
// "v op value" would hold.
func (h *IntHistogram) EstimateSelectivity(op BoolOp, value int64) float64 {
	if h.count == 0 {
		return 1.0
	}
	switch op {
	case OpEq:
		return float64(h.buckets[h.bucketOf(value)]) / float64(h.count) / h.width
	case OpGt, OpGtEq:
		var sum int64
		for b := h.bucketOf(value) + 1; b < len(h.buckets); b++ {
			sum += h.buckets[b]
		}
		return float64(sum) / float64(h.count)
	case OpLt, OpLtEq:
		var sum int64
		for b := 0; b < h.bucketOf(value); b++ {
			sum += h.buckets[b]
		}
		return float64(sum) / float64(h.count)
	default:
		return 1.0
	}
}

// StringHistogram estimates selectivity over a string column using a
// count-min sketch rather than per-value buckets, grounded directly on the
// teacher's string_histogram.go.
type StringHistogram struct {
	cms   *boom.CountMinSketch
	count int64
}

// NewStringHistogram builds a new, empty StringHistogram.
func NewStringHistogram() *StringHistogram {
	return &StringHistogram{cms: boom.NewCountMinSketch(0.001, 0.999)}
}

// AddValue records one occurrence of s.
func (h *StringHistogram) AddValue(s string) {
	h.cms.Add([]byte(s))
	h.count++
}

// EstimateSelectivity returns the fraction of recorded values equal to s.
// Only equality is meaningful over a count-min sketch; other operators fall
// back to a neutral 1.0 estimate.
func (h *StringHistogram) EstimateSelectivity(op BoolOp, s string) float64 {
	if op != OpEq || h.count == 0 {
		return 1.0
	}
	return float64(h.cms.Count([]byte(s))) / float64(h.count)
}

// CostPerPage is the assumed cost of reading one page from disk, used by
// EstimateScanCost.
const CostPerPage = 1000

// TableStats holds per-column selectivity histograms for one table,
// computed by a single pass over it through the buffer pool.
type TableStats struct {
	basePages int32
	baseTups  int64
	intHist   map[string]*IntHistogram
	strHist   map[string]*StringHistogram
	desc      *TupleDesc
}

// NumHistBins is the number of buckets each IntHistogram uses.
const NumHistBins = 100

// ComputeTableStats scans file once, inside its own transaction, building
// histograms for every column.
func ComputeTableStats(bp *BufferPool, file DbFile) (*TableStats, error) {
	hf, ok := file.(*HeapFile)
	if !ok {
		return nil, fmt.Errorf("stats only supported for heap files")
	}
	tid := NewTID()
	defer bp.TransactionComplete(tid, true)
	desc := hf.Descriptor()

	mins := make([]int64, len(desc.Fields))
	maxs := make([]int64, len(desc.Fields))
	for i := range mins {
		mins[i] = int64(^uint64(0) >> 1)
		maxs[i] = -mins[i] - 1
	}

	iter, err := hf.Iterator(tid)
	if err != nil {
		return nil, err
	}
	var rows []*Tuple
	for t, err := iter(); t != nil; t, err = iter() {
		if err != nil {
			return nil, err
		}
		rows = append(rows, t)
		for i, ft := range desc.Fields {
			if ft.Kind == IntType {
				v := t.Fields[i].(IntField).Value
				if v < mins[i] {
					mins[i] = v
				}
				if v > maxs[i] {
					maxs[i] = v
				}
			}
		}
	}
	for i := range mins {
		if mins[i] > maxs[i] {
			mins[i], maxs[i] = 0, 0
		}
	}

	intHist := make(map[string]*IntHistogram)
	strHist := make(map[string]*StringHistogram)
	for i, ft := range desc.Fields {
		switch ft.Kind {
		case IntType:
			h, err := NewIntHistogram(NumHistBins, mins[i], maxs[i])
			if err != nil {
				return nil, err
			}
			intHist[ft.Name] = h
		case StringType:
			strHist[ft.Name] = NewStringHistogram()
		}
	}
	for _, t := range rows {
		for i, ft := range desc.Fields {
			switch ft.Kind {
			case IntType:
				intHist[ft.Name].AddValue(t.Fields[i].(IntField).Value)
			case StringType:
				strHist[ft.Name].AddValue(t.Fields[i].(StringField).Value)
			}
		}
	}

	return &TableStats{
		basePages: hf.NumPages(),
		baseTups:  int64(len(rows)),
		intHist:   intHist,
		strHist:   strHist,
		desc:      desc,
	}, nil
}

// EstimateScanCost returns the assumed cost of a full sequential scan.
func (t *TableStats) EstimateScanCost() float64 {
	return float64(t.basePages) * CostPerPage
}

// EstimateCardinality returns the expected row count after applying a
// predicate of the given selectivity.
func (t *TableStats) EstimateCardinality(selectivity float64) int64 {
	return int64(float64(t.baseTups) * selectivity)
}

// EstimateSelectivity looks up the histogram for field and estimates the
// selectivity of "field op value".
func (t *TableStats) EstimateSelectivity(field string, op BoolOp, value DBValue) (float64, error) {
	if h, ok := t.intHist[field]; ok {
		v, ok := value.(IntField)
		if !ok {
			return 1.0, fmt.Errorf("field %q is int, value is not", field)
		}
		return h.EstimateSelectivity(op, v.Value), nil
	}
	if h, ok := t.strHist[field]; ok {
		v, ok := value.(StringField)
		if !ok {
			return 1.0, fmt.Errorf("field %q is string, value is not", field)
		}
		return h.EstimateSelectivity(op, v.Value), nil
	}
	return 1.0, fmt.Errorf("no histogram for field %q", field)
}
