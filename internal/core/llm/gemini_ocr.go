package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/papertrail/internal/core"
)

const ocrSystemPrompt = `You transcribe scanned academic papers. Output only the text that is ` +
	`printed on the requested page, in reading order, as plain text. Do not summarize, ` +
	`translate or add commentary. If the page has no text, output nothing.`

// GeminiOCR transcribes single PDF pages with a multimodal Gemini model.
type GeminiOCR struct {
	client    *genai.Client
	modelName string
}

func NewGeminiOCR(ctx context.Context, apiKey, modelName string) (*GeminiOCR, error) {
	cl, err := newGenaiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiOCR{client: cl, modelName: modelName}, nil
}

func (g *GeminiOCR) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiOCR) RecognizePage(ctx context.Context, pdf []byte, pageNumber int) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ocrSystemPrompt)},
	}

	prompt := fmt.Sprintf("Transcribe page %d of the attached PDF.", pageNumber)

	var resp *genai.GenerateContentResponse
	err := retryGemini(ctx, time.Minute, func() error {
		var err error
		resp, err = m.GenerateContent(ctx, genai.Blob{MIMEType: "application/pdf", Data: pdf}, genai.Text(prompt))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("gemini ocr page %d: %w", pageNumber, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

var _ core.OCREngine = (*GeminiOCR)(nil)
