package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.RenderProvider = (*KieAI)(nil)

const KieAIName = "kie_ai"

// KeyFunc resolves the API key for a content type and model.
type KeyFunc func(contentType, model string) string

var kieDefaultModels = map[model.ContentType]string{
	model.ContentPromptToImage: "google/nano-banana",
	model.ContentImageEditing:  "google/nano-banana-edit",
	model.ContentImageToVideo:  "kling/v2-1-standard",
	model.ContentPromptToVideo: "bytedance/v1-lite-text-to-video",
	model.ContentPromptToAudio: "elevenlabs/text-to-speech-multilingual-v2",
}

// KieAI submits market tasks to kie.ai and reads their record info.
type KieAI struct {
	base   string // e.g. https://api.kie.ai
	keys   KeyFunc
	client *http.Client
}

func NewKieAI(baseURL string, keys KeyFunc, timeout time.Duration) *KieAI {
	if baseURL == "" {
		baseURL = "https://api.kie.ai"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &KieAI{
		base:   strings.TrimRight(baseURL, "/"),
		keys:   keys,
		client: &http.Client{Timeout: timeout},
	}
}

func (k *KieAI) Name() string { return KieAIName }

type kieEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type kieRecord struct {
	TaskID     string `json:"taskId"`
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailCode   string `json:"failCode"`
	FailMsg    string `json:"failMsg"`
}

func (k *KieAI) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.Submission, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = kieDefaultModels[req.ContentType]
	}
	key := k.keys(string(req.ContentType), modelName)
	if key == "" {
		return adapter.Submission{}, domain.FatalDispatch(KieAIName, 0, errMissingKey)
	}

	input := map[string]any{}
	switch req.ContentType {
	case model.ContentPromptToAudio:
		input["text"] = req.Prompt
	case model.ContentImageToVideo:
		input["prompt"] = req.Prompt
		if len(req.InputAssets) > 0 {
			input["image_url"] = req.InputAssets[0]
		}
	default:
		input["prompt"] = req.Prompt
		if len(req.InputAssets) > 0 {
			input["image_urls"] = req.InputAssets
		}
	}
	body, err := json.Marshal(map[string]any{
		"model":       modelName,
		"callBackUrl": req.CallbackURL,
		"input":       input,
	})
	if err != nil {
		return adapter.Submission{}, domain.FatalDispatch(KieAIName, 0, err)
	}

	var data struct {
		TaskID string `json:"taskId"`
	}
	if err := k.do(ctx, http.MethodPost, "/api/v1/jobs/createTask", key, body, &data); err != nil {
		return adapter.Submission{}, err
	}
	if data.TaskID == "" {
		return adapter.Submission{}, domain.FatalDispatch(KieAIName, 0, errors.New("createTask returned no taskId"))
	}
	return adapter.Submission{Handle: data.TaskID}, nil
}

func (k *KieAI) Poll(ctx context.Context, handle string, ct model.ContentType) (model.Observation, error) {
	key := k.keys(string(ct), "")
	if key == "" {
		return model.Observation{}, domain.FatalDispatch(KieAIName, 0, errMissingKey)
	}
	var rec *kieRecord
	err := k.do(ctx, http.MethodGet, "/api/v1/jobs/recordInfo?taskId="+url.QueryEscape(handle), key, nil, &rec)
	var de *domain.DispatchError
	if errors.As(err, &de) && de.Status == http.StatusNotFound {
		return model.Observation{State: model.ObservedUnknown, Source: "poll"}, nil
	}
	if err != nil {
		return model.Observation{}, err
	}
	if rec == nil || rec.TaskID == "" {
		return model.Observation{State: model.ObservedUnknown, Source: "poll"}, nil
	}
	obs := rec.observation()
	obs.Source = "poll"
	return obs, nil
}

func (k *KieAI) ParseWebhook(payload []byte) (adapter.WebhookEvent, error) {
	var env kieEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return adapter.WebhookEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	var rec kieRecord
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &rec) != nil || rec.TaskID == "" {
		return adapter.WebhookEvent{}, fmt.Errorf("%w: missing data.taskId", domain.ErrMalformedPayload)
	}
	obs := rec.observation()
	// the callback envelope reports failures through code as well as state
	if env.Code != 0 && env.Code != http.StatusOK && obs.State == model.ObservedRunning {
		obs = model.Observation{State: model.ObservedFailed, Error: env.Msg}
	}
	obs.Source = "webhook"
	return adapter.WebhookEvent{Handle: rec.TaskID, Observation: obs}, nil
}

func (r *kieRecord) observation() model.Observation {
	switch strings.ToLower(r.State) {
	case "success":
		return model.Observation{State: model.ObservedSucceeded, ArtifactURL: firstResultURL(r.ResultJSON)}
	case "fail", "failed":
		msg := r.FailMsg
		if msg == "" {
			msg = "provider reported failure " + r.FailCode
		}
		return model.Observation{State: model.ObservedFailed, Error: strings.TrimSpace(msg)}
	default: // waiting, queuing, generating
		return model.Observation{State: model.ObservedRunning}
	}
}

// resultJson is itself a JSON document encoded as a string.
func firstResultURL(resultJSON string) string {
	if resultJSON == "" {
		return ""
	}
	var res struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil || len(res.ResultURLs) == 0 {
		return ""
	}
	return res.ResultURLs[0]
}

// do performs one call and decodes the data member of the envelope into out.
// kie.ai reports errors both as HTTP status and as the envelope code.
func (k *KieAI) do(ctx context.Context, method, path, key string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, k.base+path, rd)
	if err != nil {
		return domain.FatalDispatch(KieAIName, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return transportError(KieAIName, err)
	}
	defer resp.Body.Close()
	raw, err := readBody(resp.Body)
	if err != nil {
		return transportError(KieAIName, err)
	}
	if resp.StatusCode >= 300 {
		return statusError(KieAIName, resp.StatusCode, raw)
	}

	var env kieEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.RetryableDispatch(KieAIName, resp.StatusCode, fmt.Errorf("decode envelope: %w", err))
	}
	if env.Code != 0 && env.Code != http.StatusOK {
		return statusError(KieAIName, env.Code, []byte(env.Msg))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return domain.FatalDispatch(KieAIName, resp.StatusCode, fmt.Errorf("decode data: %w", err))
	}
	return nil
}
