package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `You are analyzing a photo of a purchase receipt. Carefully read all text in the image and extract the following information:

1. **Store**: The merchant, store or business name, usually the largest text at the top. Examples: "Walmart", "CVS Pharmacy", "Shell".

2. **Category**: One short spending category that best fits the purchase, such as "Groceries", "Dining", "Transport", "Health", "Household" or "Other".

3. **Date**: The transaction date in ISO 8601 format (YYYY-MM-DD).

4. **Total**: The final total or amount paid, as a number (e.g., 42.75 for $42.75).

Return ONLY valid JSON in this exact format:
{
  "store": "Store Name",
  "category": "Category",
  "date": "YYYY-MM-DD",
  "total": 0.00
}

Important:
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// dateFormats are tried in order when a model ignores the requested format
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
}

// parseReceiptJSON parses a model's JSON answer. Fields the model could not
// read come back empty so callers keep their own defaults.
func parseReceiptJSON(text string) (*ReceiptData, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
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

	var data ReceiptData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.Store = strings.TrimSpace(data.Store)
	data.Category = strings.TrimSpace(data.Category)
	data.Date = normalizeDate(strings.TrimSpace(data.Date))
	if data.Total < 0 {
		data.Total = 0
	}

	return &data, nil
}

func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}
