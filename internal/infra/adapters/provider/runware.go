package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.RenderProvider = (*Runware)(nil)

const RunwareName = "runware"

var runwareDefaultModels = map[model.ContentType]string{
	model.ContentPromptToImage: "runware:101@1",
	model.ContentImageEditing:  "runware:101@1",
	model.ContentImageToVideo:  "klingai:5@3",
	model.ContentPromptToVideo: "klingai:5@3",
	model.ContentPromptToAudio: "elevenlabs:1@1",
}

// Runware talks to the task-array API. Every request is a JSON array of tasks and
// the job id doubles as the taskUUID, so the handle is known before the call returns.
type Runware struct {
	base   string // e.g. https://api.runware.ai/v1
	keys   KeyFunc
	client *http.Client
}

func NewRunware(baseURL string, keys KeyFunc, timeout time.Duration) *Runware {
	if baseURL == "" {
		baseURL = "https://api.runware.ai/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runware{
		base:   strings.TrimRight(baseURL, "/"),
		keys:   keys,
		client: &http.Client{Timeout: timeout},
	}
}

func (r *Runware) Name() string { return RunwareName }

type runwareResult struct {
	TaskType string `json:"taskType"`
	TaskUUID string `json:"taskUUID"`
	Status   string `json:"status"`
	ImageURL string `json:"imageURL"`
	VideoURL string `json:"videoURL"`
	AudioURL string `json:"audioURL"`
}

type runwareError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	TaskUUID string `json:"taskUUID"`
}

type runwareResponse struct {
	Data   []runwareResult `json:"data"`
	Errors []runwareError  `json:"errors"`
}

func taskTypeFor(ct model.ContentType) string {
	switch ct {
	case model.ContentImageToVideo, model.ContentPromptToVideo:
		return "videoInference"
	case model.ContentPromptToAudio:
		return "audioInference"
	default:
		return "imageInference"
	}
}

func (r *Runware) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.Submission, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = runwareDefaultModels[req.ContentType]
	}
	key := r.keys(string(req.ContentType), modelName)
	if key == "" {
		return adapter.Submission{}, domain.FatalDispatch(RunwareName, 0, errMissingKey)
	}

	task := map[string]any{
		"taskType":       taskTypeFor(req.ContentType),
		"taskUUID":       req.JobID,
		"model":          modelName,
		"positivePrompt": req.Prompt,
		"deliveryMethod": "async",
		"numberResults":  1,
	}
	if req.CallbackURL != "" {
		task["webhookURL"] = req.CallbackURL
	}
	if len(req.InputAssets) > 0 {
		switch req.ContentType {
		case model.ContentImageEditing:
			task["seedImage"] = req.InputAssets[0]
		case model.ContentImageToVideo:
			task["frameImages"] = []map[string]any{{"inputImage": req.InputAssets[0], "frame": "first"}}
		}
	}

	resp, err := r.call(ctx, key, []map[string]any{task})
	if err != nil {
		return adapter.Submission{}, err
	}
	if len(resp.Errors) > 0 {
		return adapter.Submission{}, runwareTaskError(resp.Errors[0])
	}
	return adapter.Submission{Handle: req.JobID}, nil
}

func (r *Runware) Poll(ctx context.Context, handle string, ct model.ContentType) (model.Observation, error) {
	key := r.keys(string(ct), "")
	if key == "" {
		return model.Observation{}, domain.FatalDispatch(RunwareName, 0, errMissingKey)
	}
	resp, err := r.call(ctx, key, []map[string]any{{"taskType": "getResponse", "taskUUID": handle}})
	if err != nil {
		return model.Observation{}, err
	}
	for _, d := range resp.Data {
		if d.TaskUUID == handle {
			obs := d.observation()
			obs.Source = "poll"
			return obs, nil
		}
	}
	for _, e := range resp.Errors {
		if isNotFoundCode(e.Code) {
			return model.Observation{State: model.ObservedUnknown, Source: "poll"}, nil
		}
		if e.TaskUUID == handle || e.TaskUUID == "" {
			return model.Observation{State: model.ObservedFailed, Error: e.Message, Source: "poll"}, nil
		}
	}
	return model.Observation{State: model.ObservedUnknown, Source: "poll"}, nil
}

func (r *Runware) ParseWebhook(payload []byte) (adapter.WebhookEvent, error) {
	var resp runwareResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return adapter.WebhookEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if len(resp.Data) > 0 && resp.Data[0].TaskUUID != "" {
		obs := resp.Data[0].observation()
		obs.Source = "webhook"
		return adapter.WebhookEvent{Handle: resp.Data[0].TaskUUID, Observation: obs}, nil
	}
	if len(resp.Errors) > 0 && resp.Errors[0].TaskUUID != "" {
		e := resp.Errors[0]
		return adapter.WebhookEvent{
			Handle:      e.TaskUUID,
			Observation: model.Observation{State: model.ObservedFailed, Error: e.Message, Source: "webhook"},
		}, nil
	}
	return adapter.WebhookEvent{}, fmt.Errorf("%w: no task in payload", domain.ErrMalformedPayload)
}

func (d runwareResult) observation() model.Observation {
	artifact := d.ImageURL
	if artifact == "" {
		artifact = d.VideoURL
	}
	if artifact == "" {
		artifact = d.AudioURL
	}
	switch strings.ToLower(d.Status) {
	case "error", "failed":
		return model.Observation{State: model.ObservedFailed, Error: "provider reported error"}
	case "processing", "pending":
		return model.Observation{State: model.ObservedRunning}
	}
	// results delivered without a status are final
	if artifact != "" {
		return model.Observation{State: model.ObservedSucceeded, ArtifactURL: artifact}
	}
	return model.Observation{State: model.ObservedRunning}
}

func isNotFoundCode(code string) bool {
	return strings.Contains(strings.ToLower(code), "notfound")
}

func runwareTaskError(e runwareError) error {
	err := fmt.Errorf("%s: %s", e.Code, e.Message)
	c := strings.ToLower(e.Code)
	if strings.Contains(c, "timeout") || strings.Contains(c, "ratelimit") || strings.Contains(c, "unavailable") {
		return domain.RetryableDispatch(RunwareName, 0, err)
	}
	return domain.FatalDispatch(RunwareName, 0, err)
}

func (r *Runware) call(ctx context.Context, key string, tasks []map[string]any) (*runwareResponse, error) {
	body, err := json.Marshal(tasks)
	if err != nil {
		return nil, domain.FatalDispatch(RunwareName, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base, bytes.NewReader(body))
	if err != nil {
		return nil, domain.FatalDispatch(RunwareName, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, transportError(RunwareName, err)
	}
	defer resp.Body.Close()
	raw, err := readBody(resp.Body)
	if err != nil {
		return nil, transportError(RunwareName, err)
	}
	if resp.StatusCode >= 300 {
		// a 4xx body may still name a task that simply does not exist
		var out runwareResponse
		if json.Unmarshal(raw, &out) == nil && len(out.Errors) > 0 && isNotFoundCode(out.Errors[0].Code) {
			return &out, nil
		}
		return nil, statusError(RunwareName, resp.StatusCode, raw)
	}
	var out runwareResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.RetryableDispatch(RunwareName, resp.StatusCode, errors.New("undecodable response"))
	}
	return &out, nil
}
