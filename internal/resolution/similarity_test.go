package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "graph neural network", "graph neural network", 1, 1},
		{"near duplicate", "graph convolutional network", "graph convolution network", 0.65, 0.9},
		{"token reorder", "network neural graph", "graph neural network", 0.5, 1},
		{"unrelated", "support vector machine", "reinforcement learning", 0, 0.4},
		{"length blocked", "gnn variant", "a very long entirely different entity name here", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nameSimilarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
			// Symmetry.
			assert.InDelta(t, got, nameSimilarity(tt.b, tt.a), 1e-9)
		})
	}
}

func TestNameSimilarityInitialism(t *testing.T) {
	// Acronym-initials matches bypass the length block and score above the
	// auto-merge threshold.
	got := nameSimilarity("gcn", "graph convolutional network")
	assert.Equal(t, initialsScore, got)
	assert.Equal(t, got, nameSimilarity("graph convolutional network", "gcn"))

	// Non-matching initials get no such treatment.
	assert.Equal(t, 0.0, nameSimilarity("svm", "graph convolutional network"))
}

func TestNameSimilarityTruncation(t *testing.T) {
	prefix := nameSimilarity("graph neural", "graph neural network")
	base := charWeight*charSimilarity("graph neural", "graph neural network") +
		tokenWeight*tokenJaccard("graph neural", "graph neural network")
	assert.InDelta(t, base+truncationBonus, prefix, 1e-9)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"network", "network", 0},
		{"network", "networks", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestTokenJaccard(t *testing.T) {
	assert.Equal(t, 1.0, tokenJaccard("graph neural network", "network graph neural"))
	assert.Equal(t, 0.0, tokenJaccard("alpha beta", "gamma delta"))
	assert.InDelta(t, 1.0/3, tokenJaccard("graph network", "graph model"), 1e-9)
}

func TestIsTruncation(t *testing.T) {
	assert.True(t, isTruncation("graph neural", "graph neural network"))
	assert.True(t, isTruncation("neural network", "graph neural network"))
	assert.False(t, isTruncation("abc", "abcdef"))       // too short
	assert.False(t, isTruncation("graph", "neural net")) // unrelated
	assert.False(t, isTruncation("same", "same"))        // equal length
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind(6)
	uf.union(0, 1)
	uf.union(2, 3)
	uf.union(1, 2)

	assert.Equal(t, uf.find(0), uf.find(3))
	assert.NotEqual(t, uf.find(0), uf.find(4))

	comps := uf.components()
	assert.Len(t, comps, 3)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, comps[0])
	assert.Equal(t, []int{4}, comps[1])
	assert.Equal(t, []int{5}, comps[2])
}
