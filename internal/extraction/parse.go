package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseFieldsJSON parses the JSON response from the model into Fields
func parseFieldsJSON(text string) (*Fields, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var fields Fields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	fields.CompanyName = strings.TrimSpace(fields.CompanyName)
	fields.Description = strings.TrimSpace(fields.Description)
	fields.TotalAmount = strings.TrimSpace(fields.TotalAmount)

	// All three are mandatory in the schema; gst and pst may be null
	if fields.CompanyName == "" {
		return nil, fmt.Errorf("response missing companyName")
	}
	if fields.Description == "" {
		return nil, fmt.Errorf("response missing description")
	}
	if fields.TotalAmount == "" {
		return nil, fmt.Errorf("response missing totalAmount")
	}

	fields.GST = normalizeTax(fields.GST)
	fields.PST = normalizeTax(fields.PST)

	return &fields, nil
}

// normalizeTax collapses empty or whitespace tax values to nil
func normalizeTax(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
