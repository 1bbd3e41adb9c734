package pipeline

import (
	"encoding/json"
	"fmt"
)

// Stage payloads travel as the JSON body of queue messages. Paths are
// absolute; every worker shares the upload and output roots.

// ExtractPayload drives the extract stage over a run's PDFs.
type ExtractPayload struct {
	PDFPaths  []string `json:"pdf_paths"`
	OutputDir string   `json:"output_dir"`
	DPI       int      `json:"dpi,omitempty"`
}

// ParsePayload drives the AI parse stage over extracted question images.
type ParsePayload struct {
	ImagePaths []string `json:"image_paths"`
	OutputDir  string   `json:"output_dir"`
}

// CategorizePayload drives the categorize stage over parse output.
type CategorizePayload struct {
	ParsedPath string `json:"parsed_path"`
	// Per-run categorize output, kept for audit
	OutputPath string `json:"output_path"`
	// Full-corpus snapshot written after the merge
	MergedPath string `json:"merged_path"`
}

// SimilarityPayload drives the similarity stage over a corpus snapshot.
type SimilarityPayload struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	// Optional tuning; zero values defer to configuration
	CrossEncoderThreshold float64 `json:"cross_encoder_threshold,omitempty"`
	RefineThreshold       int     `json:"refine_threshold,omitempty"`
}

// SplitPayload drives the split stage over similarity output.
type SplitPayload struct {
	InputPath string `json:"input_path"`
	OutputDir string `json:"output_dir"`
}

// CoordinatePayload drives the fan-in poller on a parent run. The parent
// run id rides on the message envelope, so the body carries nothing.
type CoordinatePayload struct{}

// MarshalPayload encodes a stage payload for enqueueing.
func MarshalPayload(payload interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload decodes a message body into the stage's payload type.
func UnmarshalPayload(data json.RawMessage, payload interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("failed to unmarshal stage payload: %w", err)
	}
	return nil
}
