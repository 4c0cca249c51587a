package graph

import (
	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/gapanalysis"
	"github.com/athene-kg/athene/internal/relationships"
	"github.com/athene-kg/athene/internal/resolution"
)

// ResolverConfig maps the configuration section onto the resolver's
// thresholds.  Zero values keep the engine defaults.
func ResolverConfig(c config.ResolutionConfig) resolution.Config {
	return resolution.Config{
		AutoMergeThreshold: c.AutoMergeThreshold,
		ReviewThreshold:    c.ReviewThreshold,
		VerifierBatchSize:  c.VerifierBatchSize,
		VerifierMaxPairs:   c.VerifierMaxPairs,
		VerifierTimeout:    c.VerifierTimeout,
		EmbedTimeout:       c.EmbedTimeout,
	}
}

// BuilderConfig maps the configuration section onto the relationship
// builder's thresholds.
func BuilderConfig(c config.RelationshipsConfig) relationships.Config {
	return relationships.Config{
		SemanticThreshold:     c.SemanticThreshold,
		CoOccurrenceThreshold: c.CoOccurrenceThreshold,
		AppliesToThreshold:    c.AppliesToThreshold,
		AddressesThreshold:    c.AddressesThreshold,
		MaxSupportingDocs:     c.MaxSupportingDocs,
	}
}

// DetectorConfig maps the configuration section onto the gap detector's
// parameters.
func DetectorConfig(c config.GapAnalysisConfig) gapanalysis.Config {
	return gapanalysis.Config{
		ClusterCount:           c.ClusterCount,
		MinClusters:            c.MinClusters,
		MaxClusters:            c.MaxClusters,
		Seed:                   c.Seed,
		PotentialEdgeThreshold: c.PotentialEdgeThreshold,
		MaxPotentialEdges:      c.MaxPotentialEdges,
		TopGapEdges:            c.TopGapEdges,
		MaxBridges:             c.MaxBridges,
	}
}
