package corpus

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Categorization is the AI-assigned label for one item
type Categorization struct {
	Success     bool    `json:"success"`
	Category    string  `json:"category,omitempty"`
	Subcategory *string `json:"subcategory,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Item is one question in a tenant's corpus. Items are keyed by
// (tenantId, file) where file is the crop filename produced by the
// extract stage; they outlive the runs that wrote them, and the most
// recent run to merge a file becomes its last writer.
type Item struct {
	id                string
	tenantID          string
	file              string
	pipelineRunID     string
	sourcePDF         string
	success           bool
	parseData         json.RawMessage
	parseError        string
	parseErrorType    string
	categorization    *Categorization
	similarityGroupID *string
	markedWrong       bool
	markedWrongAt     *time.Time
	createdAt         time.Time
	updatedAt         time.Time
}

// NewItem creates a corpus item from one merged record
func NewItem(tenantID string, record Record) (*Item, error) {
	if tenantID == "" {
		return nil, errors.New("tenant ID is required")
	}
	if record.File == "" {
		return nil, errors.New("file is required")
	}

	now := time.Now().UTC()
	return &Item{
		id:             uuid.New().String(),
		tenantID:       tenantID,
		file:           record.File,
		pipelineRunID:  record.PipelineRunID,
		sourcePDF:      record.SourcePDF,
		success:        record.Success,
		parseData:      record.Data,
		parseError:     record.Error,
		parseErrorType: record.ErrorType,
		categorization: record.Categorization,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// ReconstituteItem rebuilds an item from persisted state
func ReconstituteItem(
	id string,
	tenantID string,
	file string,
	pipelineRunID string,
	sourcePDF string,
	success bool,
	parseData json.RawMessage,
	parseError string,
	parseErrorType string,
	categorization *Categorization,
	similarityGroupID *string,
	markedWrong bool,
	markedWrongAt *time.Time,
	createdAt time.Time,
	updatedAt time.Time,
) *Item {
	return &Item{
		id:                id,
		tenantID:          tenantID,
		file:              file,
		pipelineRunID:     pipelineRunID,
		sourcePDF:         sourcePDF,
		success:           success,
		parseData:         parseData,
		parseError:        parseError,
		parseErrorType:    parseErrorType,
		categorization:    categorization,
		similarityGroupID: similarityGroupID,
		markedWrong:       markedWrong,
		markedWrongAt:     markedWrongAt,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

// ID returns the item identifier
func (i *Item) ID() string {
	return i.id
}

// TenantID returns the owning tenant; it never changes
func (i *Item) TenantID() string {
	return i.tenantID
}

// File returns the crop filename, the tenant-scoped natural key
func (i *Item) File() string {
	return i.file
}

// PipelineRunID returns the run that last merged this item
func (i *Item) PipelineRunID() string {
	return i.pipelineRunID
}

// SourcePDF returns the document the crop was cut from
func (i *Item) SourcePDF() string {
	return i.sourcePDF
}

// Success reports whether the parse stage produced usable data
func (i *Item) Success() bool {
	return i.success
}

// ParseData returns the opaque parse payload
func (i *Item) ParseData() json.RawMessage {
	return i.parseData
}

// ParseError returns the parse failure message for failed items
func (i *Item) ParseError() string {
	return i.parseError
}

// ParseErrorType returns the parse failure classification
func (i *Item) ParseErrorType() string {
	return i.parseErrorType
}

// Categorization returns the AI-assigned label, nil before categorize
func (i *Item) Categorization() *Categorization {
	return i.categorization
}

// SimilarityGroupID returns the duplicate-group key, nil when ungrouped
func (i *Item) SimilarityGroupID() *string {
	return i.similarityGroupID
}

// MarkedWrong reports whether an admin flagged this item
func (i *Item) MarkedWrong() bool {
	return i.markedWrong
}

// MarkedWrongAt returns when the item was flagged, nil when it never was
func (i *Item) MarkedWrongAt() *time.Time {
	return i.markedWrongAt
}

// CreatedAt returns when the item first entered the corpus
func (i *Item) CreatedAt() time.Time {
	return i.createdAt
}

// UpdatedAt returns when the item was last modified
func (i *Item) UpdatedAt() time.Time {
	return i.updatedAt
}

// ApplyRecord overwrites the item with a newer merge of the same file.
// The similarity group is reset because grouping must be recomputed
// over the changed corpus.
func (i *Item) ApplyRecord(record Record) {
	i.pipelineRunID = record.PipelineRunID
	i.sourcePDF = record.SourcePDF
	i.success = record.Success
	i.parseData = record.Data
	i.parseError = record.Error
	i.parseErrorType = record.ErrorType
	i.categorization = record.Categorization
	i.similarityGroupID = nil
	i.updatedAt = time.Now().UTC()
}

// SetSimilarityGroup records the duplicate group computed by similarity
func (i *Item) SetSimilarityGroup(groupID *string) {
	i.similarityGroupID = groupID
	i.updatedAt = time.Now().UTC()
}

// MarkWrong flags the item as incorrect for review
func (i *Item) MarkWrong() {
	now := time.Now().UTC()
	i.markedWrong = true
	i.markedWrongAt = &now
	i.updatedAt = now
}

// ResolveWrong clears the review flag
func (i *Item) ResolveWrong() {
	i.markedWrong = false
	i.markedWrongAt = nil
	i.updatedAt = time.Now().UTC()
}

// EditParseData replaces the parse payload after a manual correction
func (i *Item) EditParseData(data json.RawMessage) {
	i.parseData = data
	i.success = true
	i.parseError = ""
	i.parseErrorType = ""
	i.updatedAt = time.Now().UTC()
}
