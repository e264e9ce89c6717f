package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"google.golang.org/genai"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/media"
)

// fallbackConfidence is assigned to fallback hits: the vision model
// names ingredients but reports no score.
const fallbackConfidence = 0.5

const fallbackPrompt = `You are looking at one frame from a kitchen camera.
List every food ingredient you can clearly see.
Answer with a JSON array of lowercase ingredient names in English, nothing else.
Example: ["tomato", "onion", "olive oil"]
If no ingredient is visible, answer [].`

// Gemini is the fallback detector: a multimodal vision model asked to
// name visible ingredients on a reduced-fidelity copy of the frame.
type Gemini struct {
	client *genai.Client
	model  string
	edge   int
}

// NewGemini builds the fallback detector. edge bounds the longer side
// of the frame copy sent to the model.
func NewGemini(ctx context.Context, apiKey, model string, edge int) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("detect: new gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, edge: edge}, nil
}

func (g *Gemini) Detect(ctx context.Context, img image.Image) ([]Observation, error) {
	scaled := media.ScaleToBound(img, g.edge)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("detect: encode fallback frame: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(fallbackPrompt),
			genai.NewPartFromBytes(buf.Bytes(), "image/jpeg"),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("detect: fallback inference: %w", err)
	}

	b := scaled.Bounds()
	return parseIngredientList(resp.Text(), float64(b.Dx()), float64(b.Dy())), nil
}

// parseIngredientList extracts ingredient names from the model reply.
// Replies wrapped in markdown code fences are unwrapped; anything that
// does not parse as a JSON string array yields no observations. Each
// hit covers the full frame since the model gives no localization.
func parseIngredientList(text string, width, height float64) []Observation {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var names []string
	if err := json.Unmarshal([]byte(text), &names); err != nil {
		return nil
	}
	var out []Observation
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Observation{
			Label:      name,
			Confidence: fallbackConfidence,
			Box:        Box{X2: width, Y2: height},
		})
	}
	return out
}
