package scanning

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GenAI implements the Scanner interface on the unified Google Gen AI SDK.
// It requests schema-constrained JSON; the answer is still untrusted.
type GenAI struct {
	client *genai.Client
	model  string
}

// NewGenAI creates a GenAI scanner against the Gemini API backend
func NewGenAI(apiKey string, modelName string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GenAI{client: client, model: modelName}, nil
}

// Scan sends the receipt image and returns the JSON text of the response
func (g *GenAI) Scan(ctx context.Context, imageData []byte, contentType string) (Raw, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pngData, err := prepareImage(imageData, contentType)
	if err != nil {
		return Raw{}, err
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: pngMimeType, Data: pngData}},
				{Text: receiptScanPrompt},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    receiptResponseSchema(),
	})
	if err != nil {
		return Raw{}, fmt.Errorf("genai API call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Raw{}, fmt.Errorf("no response from genai")
	}
	return RawText(stripCodeFence(text)), nil
}

// Close is a no-op; the genai client holds no resources
func (g *GenAI) Close() error {
	return nil
}

func receiptResponseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"vendor": {Type: genai.TypeString, Description: "Merchant or business name."},
			"date":   {Type: genai.TypeString, Description: "Transaction date as YYYY-MM-DD."},
			"amount": {Type: genai.TypeNumber, Description: "Final total in the receipt currency."},
		},
	}
}
