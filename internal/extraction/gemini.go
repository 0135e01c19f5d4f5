package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// extractFieldsPrompt is the prompt sent alongside every receipt image
const extractFieldsPrompt = `You are an AI assistant that extracts information from a receipt image.

Analyze the receipt image provided and extract the following information:
- Company Name
- A short description of what the receipt is for (e.g. "Groceries", "Dinner", "Gas")
- GST (if available)
- PST (if available)
- Total Amount

Return ONLY valid JSON in this exact format:
{
  "companyName": "...",
  "description": "...",
  "gst": "...",
  "pst": "...",
  "totalAmount": "..."
}

Important:
- companyName, description and totalAmount are required
- gst and pst must be null when the receipt does not show them
- Monetary values are strings exactly as printed on the receipt
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// ExtractReceipt analyzes a receipt image and extracts its fields. The image
// arrives as a data URI; the caller is responsible for having validated that
// the payload is a non-empty image.
func (g *Gemini) ExtractReceipt(ctx context.Context, photoDataURI string) (*Fields, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	mimeType, data, err := decodeDataURI(photoDataURI)
	if err != nil {
		return nil, fmt.Errorf("reading photo data: %w", err)
	}

	// genai.ImageData expects just the format suffix (e.g. "jpeg"),
	// not the full MIME type (e.g. "image/jpeg")
	format := strings.TrimPrefix(mimeType, "image/")
	parts := []genai.Part{
		genai.ImageData(format, data),
		genai.Text(extractFieldsPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	fields, err := parseFieldsJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing receipt fields: %w", err)
	}

	return fields, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
