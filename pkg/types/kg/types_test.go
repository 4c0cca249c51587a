package kg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityTypeValid(t *testing.T) {
	assert.True(t, EntityConcept.Valid())
	assert.True(t, EntityAuthor.Valid())
	assert.False(t, EntityType("MOLECULE").Valid())
	assert.False(t, EntityType("").Valid())
}

func TestEntityTypeUnmarshalNormalizesCase(t *testing.T) {
	var e Entity
	require.NoError(t, json.Unmarshal([]byte(`{"id":"e1","entity_type":"Concept"}`), &e))
	assert.Equal(t, EntityConcept, e.Type)

	var stats GraphStats
	require.NoError(t, json.Unmarshal([]byte(`{"node_counts":{"Concept":3,"Method":1}}`), &stats))
	assert.Equal(t, 3, stats.NodeCounts[EntityConcept])
	assert.Equal(t, 1, stats.NodeCounts[EntityMethod])
}

func TestGapStatusValid(t *testing.T) {
	assert.True(t, GapExplored.Valid())
	assert.False(t, GapStatus("open").Valid())
}

func TestTraversalNodeFlattensEntityFields(t *testing.T) {
	node := TraversalNode{
		Entity:      Entity{ID: "e1", CanonicalName: "transformer", Type: EntityConcept},
		HopDistance: 2,
	}
	data, err := json.Marshal(node)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "e1", decoded["id"])
	assert.Equal(t, "transformer", decoded["canonical_name"])
	assert.Equal(t, float64(2), decoded["hop_distance"])
}
