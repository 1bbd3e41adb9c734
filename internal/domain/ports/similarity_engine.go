package ports

import "context"

// GroupingOptions tunes the similarity engine.
type GroupingOptions struct {
	// Cross-encoder score above which two items are considered similar
	CrossEncoderThreshold float64

	// Minimum group size for the refinement pass
	RefineThreshold int
}

// SimilarityEngine invokes the external grouping engine. It reads an item
// array from inputPath and writes the same array to outputPath with a
// similarity_group_id (string or null) added to every item. A nonzero
// exit or a timeout is a fatal error.
type SimilarityEngine interface {
	Group(ctx context.Context, inputPath, outputPath string, opts GroupingOptions) error
}
