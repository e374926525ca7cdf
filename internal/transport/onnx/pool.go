package onnx

import "math"

// meanPool averages the hidden states of row over its unmasked positions.
// hidden is [rows, seqLen, dim] flattened; mask is [rows, seqLen].
func meanPool(hidden []float32, mask []int64, row, seqLen, dim int) []float32 {
	out := make([]float32, dim)
	var n float32
	for t := range seqLen {
		if mask[row*seqLen+t] == 0 {
			continue
		}
		base := (row*seqLen + t) * dim
		for d := range dim {
			out[d] += hidden[base+d]
		}
		n++
	}
	if n == 0 {
		return out
	}
	for d := range out {
		out[d] /= n
	}
	return out
}

// l2Normalize scales v to unit length in place. Zero vectors stay zero.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= scale
	}
}
