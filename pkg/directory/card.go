package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Discovery constants for agent-card HTTP endpoints.
const (
	// WellKnownPath is the standardized location for card discovery.
	WellKnownPath = "/.well-known/agent-card.json"
)

// Card is the JSON document an agent publishes to advertise itself.
type Card struct {
	AgentID     string  `json:"agent_id"`
	Description string  `json:"description,omitempty"`
	Version     string  `json:"version,omitempty"`
	Endpoint    string  `json:"endpoint"`
	Skills      []Skill `json:"skills"`
}

// PublishHandler serves the provided card as JSON.
func PublishHandler(card *Card) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if card == nil {
			http.Error(w, "agent card not configured", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(card)
	})
}

// FetchCard retrieves an agent card from a base URL.
func FetchCard(ctx context.Context, baseURL string) (*Card, error) {
	url := strings.TrimRight(baseURL, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card fetch failed: %s", resp.Status)
	}

	var card Card
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, err
	}
	return &card, nil
}

// RegisterCard fetches the card at baseURL and registers the agent in
// the directory, defaulting the delegation endpoint to baseURL when
// the card leaves it empty.
func (d *Directory) RegisterCard(ctx context.Context, baseURL string) error {
	card, err := FetchCard(ctx, baseURL)
	if err != nil {
		return err
	}
	endpoint := card.Endpoint
	if endpoint == "" {
		endpoint = baseURL
	}
	return d.Register(Entry{
		AgentID:     card.AgentID,
		Description: card.Description,
		Endpoint:    endpoint,
		Skills:      card.Skills,
	})
}
