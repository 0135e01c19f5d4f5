package extraction

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Fields contains the structured values extracted from a receipt image.
// Monetary values are kept as the opaque strings the model returned; GST and
// PST are nil when the receipt does not show them.
type Fields struct {
	CompanyName string  `json:"companyName"`
	Description string  `json:"description"`
	GST         *string `json:"gst"`
	PST         *string `json:"pst"`
	TotalAmount string  `json:"totalAmount"`
}

// Extractor defines the interface for receipt field extraction
type Extractor interface {
	// ExtractReceipt analyzes a receipt image supplied as a data URI
	// ("data:<mimetype>;base64,<payload>") and extracts its fields
	ExtractReceipt(ctx context.Context, photoDataURI string) (*Fields, error)
	// Close closes the extractor and releases resources
	Close() error
}

// EncodeDataURI wraps raw image bytes in a self-describing data URI.
func EncodeDataURI(contentType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}

// decodeDataURI splits a data URI back into its mime type and raw bytes.
func decodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("data URI missing payload")
	}
	mimeType, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return "", nil, fmt.Errorf("data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding data URI payload: %w", err)
	}
	return mimeType, data, nil
}
