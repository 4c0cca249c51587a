// Package vectors provides the small amount of dense-vector math shared by
// candidate generation, relationship building, and gap analysis.  All
// functions are pure and allocation-light; callers run them on worker
// goroutines, off the request path.
package vectors

import "math"

// Cosine returns the cosine similarity of a and b in [-1,1].  Mismatched
// lengths or zero-norm inputs yield 0, so callers can treat "no signal" and
// "orthogonal" uniformly.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SquaredDistance returns the squared Euclidean distance between a and b.
// Used by k-means, where the monotone transform is sufficient and the sqrt
// would be wasted work.
func SquaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Mean returns the element-wise mean of the given vectors.  Returns nil for
// an empty input.  All vectors must share the length of the first.
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	acc := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			acc[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	n := float64(len(vecs))
	for i, s := range acc {
		out[i] = float32(s / n)
	}
	return out
}
