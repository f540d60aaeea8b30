package vector

// InnerProduct returns the inner product of two vectors. For unit-length
// vectors this equals cosine similarity, in [-1, 1].
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
