package scanning

// LineItem is one extracted receipt line
type LineItem struct {
	Name       string  `json:"name"`
	TotalValue float64 `json:"total_value"`
	Quantity   int     `json:"quantity"`
}

// ReceiptData is the extraction service's best guess at a restaurant bill
type ReceiptData struct {
	Establishment  string     `json:"establishment"`
	Items          []LineItem `json:"items"`
	ServicePercent float64    `json:"service_fee_percent"` // Service fee printed on the bill, as a percentage
	GrandTotal     float64    `json:"grand_total"`
}

// Scanner defines the interface for receipt extraction
type Scanner interface {
	// ScanReceipt reads a receipt photo/PDF and extracts its line items
	ScanReceipt(imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
