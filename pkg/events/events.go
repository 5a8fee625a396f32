// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package events is the client for the external events service, the
// system of record for gatherings. The orchestration core never owns
// event state; it reads and mutates it through this boundary.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/gatherlabs/gather/pkg/errors"
)

// Event is a gathering as the events service models it.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// Service is the event operations agents depend on.
type Service interface {
	Create(ctx context.Context, event Event) (*Event, error)
	Get(ctx context.Context, id string) (*Event, error)
	List(ctx context.Context) ([]Event, error)
	Update(ctx context.Context, event Event) (*Event, error)
	Delete(ctx context.Context, id string) error
}

// Client implements Service over the events REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// NewClient creates an events client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Create registers a new event and returns it with its assigned id.
func (c *Client) Create(ctx context.Context, event Event) (*Event, error) {
	var out Event
	if err := c.do(ctx, http.MethodPost, "/events", event, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches one event by id.
func (c *Client) Get(ctx context.Context, id string) (*Event, error) {
	var out Event
	if err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List fetches all visible events.
func (c *Client) List(ctx context.Context) ([]Event, error) {
	var out []Event
	if err := c.do(ctx, http.MethodGet, "/events", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces an existing event.
func (c *Client) Update(ctx context.Context, event Event) (*Event, error) {
	if event.ID == "" {
		return nil, errors.New(errors.CodeArgumentMismatch, "event id is required for update", nil)
	}
	var out Event
	if err := c.do(ctx, http.MethodPut, "/events/"+url.PathEscape(event.ID), event, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an event by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/events/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return errors.New(errors.CodeInternal, "encode event payload", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.New(errors.CodeInternal, "build events request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(errors.CodeToolFailure, "events service unreachable", err).
			WithContext("method", method).
			WithContext("path", path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.CodeToolFailure, fmt.Sprintf("event not found: %s %s", method, path), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return errors.New(errors.CodeToolFailure,
			fmt.Sprintf("events service returned %s", resp.Status), nil).
			WithContext("method", method).
			WithContext("path", path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.CodeToolFailure, "malformed events service response", err)
	}
	return nil
}
