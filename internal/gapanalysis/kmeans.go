// Package gapanalysis implements the gap detector: k-means clustering of
// concept embeddings with automatic cluster-count selection, structural gap
// scoring over inter-cluster connectivity, node centrality, bridge-concept
// ranking, and potential-edge computation for visualization.
package gapanalysis

import (
	"math"
	"math/rand"

	"github.com/athene-kg/athene/internal/vectors"
)

// kmeansResult is one clustering of the input points.
type kmeansResult struct {
	assignments []int
	centroids   [][]float32
	inertia     float64
}

// runKMeans clusters points into k clusters with k-means++ seeding.  The
// caller supplies the random source so runs are reproducible under a fixed
// seed.
func runKMeans(points [][]float32, k, maxIterations int, rng *rand.Rand) kmeansResult {
	n := len(points)
	if k > n {
		k = n
	}
	centroids := seedCentroids(points, k, rng)
	assignments := make([]int, n)

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.MaxFloat64
			for c, centroid := range centroids {
				if d := vectors.SquaredDistance(p, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		dim := len(points[0])
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for d, v := range p {
				sums[c][d] += float64(v)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster: reseed on the point farthest from its
				// centroid.
				centroids[c] = points[farthestPoint(points, centroids, assignments)]
				continue
			}
			fresh := make([]float32, dim)
			for d := range fresh {
				fresh[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = fresh
		}

		if !changed {
			break
		}
	}

	inertia := 0.0
	for i, p := range points {
		inertia += vectors.SquaredDistance(p, centroids[assignments[i]])
	}
	return kmeansResult{assignments: assignments, centroids: centroids, inertia: inertia}
}

// seedCentroids implements k-means++ seeding: each subsequent centroid is
// drawn with probability proportional to squared distance from the nearest
// existing centroid.
func seedCentroids(points [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, points[rng.Intn(len(points))])

	dists := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			d := math.MaxFloat64
			for _, c := range centroids {
				if dd := vectors.SquaredDistance(p, c); dd < d {
					d = dd
				}
			}
			dists[i] = d
			total += d
		}
		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		chosen := len(points) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, points[chosen])
	}
	return centroids
}

// farthestPoint returns the index of the point farthest from its assigned
// centroid, used to reseed an emptied cluster.
func farthestPoint(points [][]float32, centroids [][]float32, assignments []int) int {
	worst, worstDist := 0, -1.0
	for i, p := range points {
		if d := vectors.SquaredDistance(p, centroids[assignments[i]]); d > worstDist {
			worst, worstDist = i, d
		}
	}
	return worst
}

// selectK picks the cluster count via the elbow heuristic: run k-means for
// each k in [minK, maxK] (bounded by n−1), and choose the k with the maximum
// second discrete derivative of the inertia curve.  With fewer than three
// curve points the midpoint of the range is used instead.
func selectK(points [][]float32, minK, maxK, maxIterations int, rng *rand.Rand) int {
	n := len(points)
	if maxK > n-1 {
		maxK = n - 1
	}
	if minK > maxK {
		return maxK
	}

	inertias := make([]float64, 0, maxK-minK+1)
	for k := minK; k <= maxK; k++ {
		inertias = append(inertias, runKMeans(points, k, maxIterations, rng).inertia)
	}
	if len(inertias) < 3 {
		return (minK + maxK) / 2
	}

	bestK, bestCurve := minK+1, -math.MaxFloat64
	for i := 1; i < len(inertias)-1; i++ {
		curve := inertias[i-1] - 2*inertias[i] + inertias[i+1]
		if curve > bestCurve {
			bestCurve = curve
			bestK = minK + i
		}
	}
	return bestK
}
