package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abduss/storage-emulator/internal/metadata"
)

const defaultRemoteTimeout = 5 * time.Second

// Remote asks an external rules runtime over HTTP. The request descriptor is
// POSTed as JSON and the runtime answers with {"allowed": bool}.
type Remote struct {
	url    string
	client *http.Client
}

type remotePayload struct {
	Request
	Resource *metadata.Record `json:"resource,omitempty"`
}

type remoteDecision struct {
	Allowed *bool `json:"allowed"`
}

// NewRemote creates a remote validator. A nil client gets a default one with a
// short timeout.
func NewRemote(url string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: defaultRemoteTimeout}
	}
	return &Remote{url: url, client: client}
}

// Validate implements Validator.
func (r *Remote) Validate(ctx context.Context, req Request) (bool, error) {
	payload := remotePayload{Request: req}
	if req.Resource != nil {
		rec := metadata.ToRecord(*req.Resource)
		payload.Resource = &rec
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("%w: encode request: %w", ErrEvaluation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("%w: build request: %w", ErrEvaluation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("%w: read response: %w", ErrEvaluation, err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: runtime answered %d", ErrEvaluation, resp.StatusCode)
	}

	var decision remoteDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return false, fmt.Errorf("%w: decode response: %w", ErrEvaluation, err)
	}
	if decision.Allowed == nil {
		return false, fmt.Errorf("%w: response has no decision", ErrEvaluation)
	}
	return *decision.Allowed, nil
}
