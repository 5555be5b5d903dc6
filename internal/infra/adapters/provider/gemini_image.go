package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.RenderProvider = (*GeminiImages)(nil)

const GeminiName = "gemini"

// GeminiImages renders prompt_to_image synchronously with Imagen through the genai SDK.
// A genai client is bound to one API key, so clients are cached per key.
type GeminiImages struct {
	baseURL      string
	keys         KeyFunc
	store        adapter.ArtifactStore
	defaultModel string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGeminiImages(baseURL string, keys KeyFunc, defaultModel string, store adapter.ArtifactStore) *GeminiImages {
	if defaultModel == "" {
		defaultModel = "imagen-4.0-generate-001"
	}
	return &GeminiImages{
		baseURL:      baseURL,
		keys:         keys,
		store:        store,
		defaultModel: defaultModel,
		clients:      map[string]*genai.Client{},
	}
}

func (g *GeminiImages) Name() string { return GeminiName }

func (g *GeminiImages) client(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c := g.clients[key]; c != nil {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: g.baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	g.clients[key] = c
	return c, nil
}

func (g *GeminiImages) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.Submission, error) {
	if req.ContentType != model.ContentPromptToImage {
		return adapter.Submission{}, domain.FatalDispatch(GeminiName, 0, fmt.Errorf("unsupported content type %s", req.ContentType))
	}
	modelName := modelOrDefault(req.Model, g.defaultModel)
	key := g.keys(string(req.ContentType), modelName)
	if key == "" {
		return adapter.Submission{}, domain.FatalDispatch(GeminiName, 0, errMissingKey)
	}
	c, err := g.client(ctx, key)
	if err != nil {
		return adapter.Submission{}, domain.FatalDispatch(GeminiName, 0, err)
	}

	resp, err := c.Models.GenerateImages(ctx, modelName, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return adapter.Submission{}, classifyGenAI(err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return adapter.Submission{}, domain.FatalDispatch(GeminiName, 0, errors.New("no image generated"))
	}
	img := resp.GeneratedImages[0]
	if img.RAIFilteredReason != "" {
		return adapter.Submission{}, domain.FatalDispatch(GeminiName, 0, fmt.Errorf("filtered: %s", img.RAIFilteredReason))
	}
	obs, err := storeArtifact(ctx, g.store, GeminiName, req.JobID, img.Image.MIMEType, img.Image.ImageBytes)
	if err != nil {
		return adapter.Submission{}, err
	}
	return adapter.Submission{Immediate: obs}, nil
}

func (g *GeminiImages) Poll(context.Context, string, model.ContentType) (model.Observation, error) {
	return syncPoll()
}

func (g *GeminiImages) ParseWebhook([]byte) (adapter.WebhookEvent, error) {
	return syncWebhook(GeminiName)
}

func classifyGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(GeminiName, apiErr.Code, []byte(apiErr.Message))
	}
	return transportError(GeminiName, err)
}

func modelOrDefault(m, def string) string {
	if m != "" {
		return m
	}
	return def
}
