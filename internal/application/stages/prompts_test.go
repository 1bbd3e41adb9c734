package stages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

func testCatalog(t *testing.T) *categoryCatalog {
	t.Helper()
	sub := func(s string) *string { return &s }

	bones, err := tenant.NewCategory("tenant-1", "anatomy-bones", "Anatomy", sub("Bones"), 1)
	require.NoError(t, err)
	muscles, err := tenant.NewCategory("tenant-1", "anatomy-muscles", "Anatomy", sub("Muscles"), 2)
	require.NoError(t, err)
	physiology, err := tenant.NewCategory("tenant-1", "physiology", "Physiology", nil, 3)
	require.NoError(t, err)

	return newCategoryCatalog([]*tenant.Category{bones, muscles, physiology})
}

func TestCategoryCatalog_SystemPromptListsTaxonomy(t *testing.T) {
	// Arrange
	catalog := testCatalog(t)

	// Act
	prompt := catalog.SystemPrompt()

	// Assert
	assert.Contains(t, prompt, "1. Anatomy")
	assert.Contains(t, prompt, "   - Bones")
	assert.Contains(t, prompt, "   - Muscles")
	assert.Contains(t, prompt, "2. Physiology")
	assert.Contains(t, prompt, "subcategories")
}

func TestCategoryCatalog_ResponseSchemaConstrainsLabels(t *testing.T) {
	// Arrange
	catalog := testCatalog(t)

	// Act
	raw := catalog.ResponseSchema()

	// Assert
	var schema struct {
		Type       string `json:"type"`
		Properties map[string]struct {
			Enum []string `json:"enum"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"Anatomy", "Physiology"}, schema.Properties["category"].Enum)
	assert.Equal(t, []string{"Bones", "Muscles"}, schema.Properties["subcategory"].Enum)
	assert.Equal(t, []string{"category"}, schema.Required)
}

func TestCategoryCatalog_ResponseSchemaOmitsSubcategoryWhenNoneExist(t *testing.T) {
	// Arrange
	flat, err := tenant.NewCategory("tenant-1", "algebra", "Algebra", nil, 1)
	require.NoError(t, err)
	catalog := newCategoryCatalog([]*tenant.Category{flat})

	// Act
	raw := catalog.ResponseSchema()

	// Assert
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.NotContains(t, schema.Properties, "subcategory")
}

func TestCategoryCatalog_ResolveCategory(t *testing.T) {
	catalog := testCatalog(t)

	tests := []struct {
		name   string
		answer string
		want   string
		ok     bool
	}{
		{"exact match", "Anatomy", "Anatomy", true},
		{"case insensitive", "anatomy", "Anatomy", true},
		{"answer contains name", "Anatomy (human)", "Anatomy", true},
		{"name contains answer", "physio", "Physiology", true},
		{"surrounding whitespace", "  Physiology  ", "Physiology", true},
		{"unknown", "Astronomy", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := catalog.ResolveCategory(tt.answer)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategoryCatalog_ResolveSubcategory(t *testing.T) {
	catalog := testCatalog(t)

	tests := []struct {
		name     string
		category string
		answer   string
		want     string
		ok       bool
	}{
		{"exact match", "Anatomy", "Bones", "Bones", true},
		{"case insensitive", "Anatomy", "muscles", "Muscles", true},
		{"wrong category", "Physiology", "Bones", "", false},
		{"unknown label", "Anatomy", "Joints", "", false},
		{"empty answer", "Anatomy", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := catalog.ResolveSubcategory(tt.category, tt.answer)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
