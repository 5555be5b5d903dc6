package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.RenderProvider = (*OpenAIImages)(nil)

const OpenAIName = "openai"

// OpenAIImages renders prompt_to_image synchronously through the Images API.
// The returned base64 image is uploaded to the artifact store.
type OpenAIImages struct {
	client       openai.Client
	keys         KeyFunc
	store        adapter.ArtifactStore
	defaultModel string
}

func NewOpenAIImages(baseURL string, keys KeyFunc, defaultModel string, store adapter.ArtifactStore, timeout time.Duration) *OpenAIImages {
	if defaultModel == "" {
		defaultModel = string(openai.ImageModelGPTImage1)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		// retries belong to the dispatcher
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIImages{
		client:       openai.NewClient(opts...),
		keys:         keys,
		store:        store,
		defaultModel: defaultModel,
	}
}

func (o *OpenAIImages) Name() string { return OpenAIName }

func (o *OpenAIImages) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.Submission, error) {
	if req.ContentType != model.ContentPromptToImage {
		return adapter.Submission{}, domain.FatalDispatch(OpenAIName, 0, fmt.Errorf("unsupported content type %s", req.ContentType))
	}
	modelName := req.Model
	if modelName == "" {
		modelName = o.defaultModel
	}
	key := o.keys(string(req.ContentType), modelName)
	if key == "" {
		return adapter.Submission{}, domain.FatalDispatch(OpenAIName, 0, errMissingKey)
	}

	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(modelName),
		N:      openai.Int(1),
	}
	// gpt-image models always answer in base64 and reject response_format
	if strings.HasPrefix(modelName, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}
	resp, err := o.client.Images.Generate(ctx, params, option.WithAPIKey(key))
	if err != nil {
		return adapter.Submission{}, classifyOpenAI(err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return adapter.Submission{}, domain.FatalDispatch(OpenAIName, 0, errors.New("images api returned no data"))
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return adapter.Submission{}, domain.FatalDispatch(OpenAIName, 0, fmt.Errorf("decode image: %w", err))
	}
	obs, err := storeArtifact(ctx, o.store, OpenAIName, req.JobID, "image/png", data)
	if err != nil {
		return adapter.Submission{}, err
	}
	return adapter.Submission{Immediate: obs}, nil
}

func (o *OpenAIImages) Poll(context.Context, string, model.ContentType) (model.Observation, error) {
	return syncPoll()
}

func (o *OpenAIImages) ParseWebhook([]byte) (adapter.WebhookEvent, error) {
	return syncWebhook(OpenAIName)
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError(OpenAIName, apiErr.StatusCode, []byte(apiErr.Message))
	}
	return transportError(OpenAIName, err)
}
