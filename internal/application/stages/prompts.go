package stages

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

// parseSystemPrompt is the fixed vision instruction. The response schema
// enforces the shape; the prompt explains the field conventions the
// schema cannot express.
const parseSystemPrompt = `You read a cropped image of a single exam question and return it as JSON.

Rules:
- question_number: the printed question number, as a string, exactly as shown (for example "3." or "12/a").
- points: the integer point value printed next to the question.
- question_text: the full question text. Reproduce tabular content as a markdown table and leave the cells the student must fill in blank.
- question_type: one of multiple_choice, fill_in, matching, open.
- correct_answer: the expected answer as a string. For tabular answers return the same markdown table with the answer cells filled in. Leave empty when the image shows no answer.
- options: for multiple_choice questions, every printed option as a separate string; otherwise an empty array.

Transcribe the question language as-is. Never translate, never add commentary.`

// schemaNode builds provider response schemas (an OpenAPI subset).
type schemaNode struct {
	Type       string                `json:"type"`
	Enum       []string              `json:"enum,omitempty"`
	Items      *schemaNode           `json:"items,omitempty"`
	Properties map[string]schemaNode `json:"properties,omitempty"`
	Required   []string              `json:"required,omitempty"`
}

func mustSchema(node schemaNode) json.RawMessage {
	data, err := json.Marshal(node)
	if err != nil {
		panic(fmt.Sprintf("response schema does not marshal: %v", err))
	}
	return data
}

// parseResponseSchema constrains the vision model's output.
var parseResponseSchema = mustSchema(schemaNode{
	Type: "object",
	Properties: map[string]schemaNode{
		"question_number": {Type: "string"},
		"points":          {Type: "integer"},
		"question_text":   {Type: "string"},
		"question_type":   {Type: "string", Enum: []string{"multiple_choice", "fill_in", "matching", "open"}},
		"correct_answer":  {Type: "string"},
		"options":         {Type: "array", Items: &schemaNode{Type: "string"}},
	},
	Required: []string{"question_number", "points", "question_text", "question_type"},
})

// parsedQuestion is the shape the parse stage expects back from the
// vision model. Unmarshalling into it validates the model kept to the
// schema before the raw JSON is trusted as item data.
type parsedQuestion struct {
	QuestionNumber string   `json:"question_number"`
	Points         int      `json:"points"`
	QuestionText   string   `json:"question_text"`
	QuestionType   string   `json:"question_type"`
	CorrectAnswer  string   `json:"correct_answer"`
	Options        []string `json:"options"`
}

// categoryCatalog is the tenant's taxonomy prepared for prompting:
// distinct category names in sort order, each with its subcategory
// labels, plus lookup tables for validating model output.
type categoryCatalog struct {
	names      []string
	subsByName map[string][]string
	hasSubs    bool
}

// newCategoryCatalog builds the catalog from sortOrder-sorted rows.
func newCategoryCatalog(categories []*tenant.Category) *categoryCatalog {
	cat := &categoryCatalog{subsByName: make(map[string][]string)}
	for _, c := range categories {
		if _, seen := cat.subsByName[c.Name()]; !seen {
			cat.names = append(cat.names, c.Name())
			cat.subsByName[c.Name()] = nil
		}
		if c.HasSubcategory() {
			cat.hasSubs = true
			cat.subsByName[c.Name()] = append(cat.subsByName[c.Name()], *c.Subcategory())
		}
	}
	return cat
}

// SystemPrompt renders the numbered category list for the language
// model. When any category carries subcategories, entries group their
// subcategories under the category name.
func (c *categoryCatalog) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are classifying exam questions into a fixed taxonomy.\n")
	b.WriteString("Choose exactly one category from this list")
	if c.hasSubs {
		b.WriteString(", and when the category lists subcategories, also choose the single best-fitting one")
	}
	b.WriteString(":\n\n")

	for i, name := range c.names {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
		for _, sub := range c.subsByName[name] {
			fmt.Fprintf(&b, "   - %s\n", sub)
		}
	}

	b.WriteString("\nReturn JSON with the chosen category")
	if c.hasSubs {
		b.WriteString(", the subcategory when one applies,")
	}
	b.WriteString(" and a one-sentence reasoning. Use the labels exactly as written above.")
	return b.String()
}

// ResponseSchema constrains the model's category (and subcategory, when
// the tenant has any) to the existing labels.
func (c *categoryCatalog) ResponseSchema() json.RawMessage {
	properties := map[string]schemaNode{
		"category":  {Type: "string", Enum: c.names},
		"reasoning": {Type: "string"},
	}
	if c.hasSubs {
		var subs []string
		seen := make(map[string]bool)
		for _, name := range c.names {
			for _, sub := range c.subsByName[name] {
				if !seen[sub] {
					seen[sub] = true
					subs = append(subs, sub)
				}
			}
		}
		properties["subcategory"] = schemaNode{Type: "string", Enum: subs}
	}
	return mustSchema(schemaNode{
		Type:       "object",
		Properties: properties,
		Required:   []string{"category"},
	})
}

// ResolveCategory maps the model's category answer onto a configured
// name: exact match first, then case-insensitive, then substring in
// either direction. Returns false when nothing plausibly matches.
func (c *categoryCatalog) ResolveCategory(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	for _, name := range c.names {
		if name == answer {
			return name, true
		}
	}
	lower := strings.ToLower(answer)
	for _, name := range c.names {
		if strings.ToLower(name) == lower {
			return name, true
		}
	}
	for _, name := range c.names {
		nameLower := strings.ToLower(name)
		if strings.Contains(nameLower, lower) || strings.Contains(lower, nameLower) {
			return name, true
		}
	}
	return "", false
}

// ResolveSubcategory validates a subcategory answer against the resolved
// category's labels, with the same fallbacks as ResolveCategory.
func (c *categoryCatalog) ResolveSubcategory(category, answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	subs := c.subsByName[category]
	for _, sub := range subs {
		if sub == answer {
			return sub, true
		}
	}
	lower := strings.ToLower(answer)
	for _, sub := range subs {
		if strings.ToLower(sub) == lower {
			return sub, true
		}
	}
	for _, sub := range subs {
		subLower := strings.ToLower(sub)
		if strings.Contains(subLower, lower) || strings.Contains(lower, subLower) {
			return sub, true
		}
	}
	return "", false
}
