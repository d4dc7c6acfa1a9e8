package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abduss/storage-emulator/internal/metadata"
)

// FunctionsDispatcher posts events to a functions emulator's multicast
// trigger endpoint, once in background-function form and once as a
// CloudEvent.
type FunctionsDispatcher struct {
	baseURL string
	client  *http.Client
}

type legacyEvent struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Resource  legacyResource  `json:"resource"`
	Timestamp string          `json:"timestamp"`
	Data      metadata.Record `json:"data"`
}

type legacyResource struct {
	Service string `json:"service"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

type cloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject"`
	Time            string          `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            metadata.Record `json:"data"`
}

// NewFunctionsDispatcher targets the functions emulator at baseURL. A nil
// client gets a default one.
func NewFunctionsDispatcher(baseURL string, client *http.Client) *FunctionsDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FunctionsDispatcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Dispatch implements Dispatcher.
func (d *FunctionsDispatcher) Dispatch(ctx context.Context, event Event) error {
	legacyType, err := event.Kind.LegacyType()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	cloudType, err := event.Kind.CloudEventType()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	timestamp := event.Time.UTC().Format(time.RFC3339Nano)

	legacy := legacyEvent{
		EventID:   event.ID,
		EventType: legacyType,
		Resource: legacyResource{
			Service: storageService,
			Name:    event.Resource(),
			Type:    "storage#object",
		},
		Timestamp: timestamp,
		Data:      event.Metadata,
	}
	if err := d.post(ctx, event.ProjectID, "application/json", legacy); err != nil {
		return err
	}

	ce := cloudEvent{
		SpecVersion:     "1.0",
		ID:              event.ID,
		Type:            cloudType,
		Source:          fmt.Sprintf("//%s/projects/_/buckets/%s", storageService, event.Bucket),
		Subject:         "objects/" + event.Name,
		Time:            timestamp,
		DataContentType: "application/json",
		Data:            event.Metadata,
	}
	return d.post(ctx, event.ProjectID, "application/cloudevents+json; charset=UTF-8", ce)
}

func (d *FunctionsDispatcher) post(ctx context.Context, projectID, contentType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", ErrDispatch, err)
	}

	endpoint := fmt.Sprintf("%s/functions/projects/%s/trigger_multicast", d.baseURL, url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrDispatch, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: functions emulator answered %d", ErrDispatch, resp.StatusCode)
	}
	return nil
}
