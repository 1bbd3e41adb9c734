package corpus

import "encoding/json"

// Record is the JSON shape of one item inside the stage files
// (parsed.json, categorized.json, categorized_merged.json and
// similarity.json all carry arrays of it). The similarity group key is
// serialized even when null so the similarity engine's string-or-null
// contract survives round trips.
type Record struct {
	File              string          `json:"file"`
	SourcePDF         string          `json:"source_pdf,omitempty"`
	PipelineRunID     string          `json:"pipeline_run_id,omitempty"`
	Success           bool            `json:"success"`
	Data              json.RawMessage `json:"data,omitempty"`
	Error             string          `json:"error,omitempty"`
	ErrorType         string          `json:"error_type,omitempty"`
	Categorization    *Categorization `json:"categorization,omitempty"`
	SimilarityGroupID *string         `json:"similarity_group_id"`
}

// RecordFromItem converts a stored item back into its file shape
func RecordFromItem(item *Item) Record {
	return Record{
		File:              item.File(),
		SourcePDF:         item.SourcePDF(),
		PipelineRunID:     item.PipelineRunID(),
		Success:           item.Success(),
		Data:              item.ParseData(),
		Error:             item.ParseError(),
		ErrorType:         item.ParseErrorType(),
		Categorization:    item.Categorization(),
		SimilarityGroupID: item.SimilarityGroupID(),
	}
}

// RecordsFromItems converts a corpus snapshot into its file shape
func RecordsFromItems(items []*Item) []Record {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, RecordFromItem(item))
	}
	return records
}

// CategoryLabel returns the grouping label split uses: the subcategory
// when present, else the category. The second return is false when the
// record was never successfully categorized.
func (r Record) CategoryLabel() (string, bool) {
	if r.Categorization == nil || !r.Categorization.Success || r.Categorization.Category == "" {
		return "", false
	}
	if r.Categorization.Subcategory != nil && *r.Categorization.Subcategory != "" {
		return *r.Categorization.Subcategory, true
	}
	return r.Categorization.Category, true
}
