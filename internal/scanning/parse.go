package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// UnknownEstablishment is used when the receipt header can't be read
	UnknownEstablishment = "Local Desconhecido"
	// DefaultServicePercent is assumed when no service fee is printed
	DefaultServicePercent = 10.0

	unnamedItem = "Item"
)

// receiptScanPrompt is the shared prompt used by all LLM providers
const receiptScanPrompt = `You are reading a photo of a restaurant bill. Read every line and extract:

1. **Establishment**: the restaurant or bar name, usually at the top.

2. **Items**: every consumed line with its name, quantity and the line's total price (unit price times quantity). Include cover charges ("Couvert", "Couvert Artístico"), parking and any other fixed fees as items.

3. **Service fee percentage**: the percentage charged as service ("Taxa de serviço", "Serviço", "10%"). Return the percentage only (e.g. 10, 12, 13). If only a currency amount is printed, convert it to an approximate percentage of the items total.

4. **Grand total**: the final amount due.

Return ONLY valid JSON in this exact format:
{
  "establishment": "string",
  "items": [{"name": "string", "total_value": 0.00, "quantity": 1}],
  "service_fee_percent": 10,
  "grand_total": 0.00
}

Important:
- All numbers must be numbers, not strings
- Use a dot as the decimal separator
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// rawReceipt mirrors the model output before defaults are applied
type rawReceipt struct {
	Establishment  *string `json:"establishment"`
	Items          []struct {
		Name       *string  `json:"name"`
		TotalValue *float64 `json:"total_value"`
		Quantity   *float64 `json:"quantity"`
	} `json:"items"`
	ServicePercent *float64 `json:"service_fee_percent"`
	GrandTotal     *float64 `json:"grand_total"`
}

// parseReceiptJSON parses the JSON reply of a model
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Keep only the outermost object
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawReceipt
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &ReceiptData{
		Establishment:  UnknownEstablishment,
		Items:          make([]LineItem, 0, len(raw.Items)),
		ServicePercent: DefaultServicePercent,
	}

	if raw.Establishment != nil {
		if name := strings.TrimSpace(*raw.Establishment); name != "" {
			data.Establishment = name
		}
	}

	// A zero fee is treated like a missing one
	if raw.ServicePercent != nil && *raw.ServicePercent != 0 {
		data.ServicePercent = *raw.ServicePercent
	}

	if raw.GrandTotal != nil {
		data.GrandTotal = *raw.GrandTotal
	}

	for _, it := range raw.Items {
		line := LineItem{Name: unnamedItem, Quantity: 1}
		if it.Name != nil {
			if name := strings.TrimSpace(*it.Name); name != "" {
				line.Name = name
			}
		}
		if it.TotalValue != nil {
			line.TotalValue = *it.TotalValue
		}
		if it.Quantity != nil && int(*it.Quantity) >= 1 {
			line.Quantity = int(*it.Quantity)
		}
		data.Items = append(data.Items, line)
	}

	return data, nil
}
