package directory

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gatherlabs/gather/pkg/errors"
)

func socialEntry() Entry {
	return Entry{
		AgentID:  "social-context",
		Endpoint: "http://localhost:9001",
		Skills: []Skill{
			{
				ID:          "relationship-summary",
				Name:        "Relationship summary",
				Description: "Summarizes friendships and shared event attendance for a set of people.",
				Tags:        []string{"social", "graph"},
				Examples:    []string{"who are Dev's closest friends"},
			},
		},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	dir := New()
	if err := dir.Register(socialEntry()); err != nil {
		t.Fatalf("register: %v", err)
	}
	entry, err := dir.Resolve("social-context")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entry.Endpoint != "http://localhost:9001" {
		t.Errorf("unexpected endpoint %q", entry.Endpoint)
	}
}

func TestResolveUnknownAgent(t *testing.T) {
	dir := New()
	_, err := dir.Resolve("nobody")
	if !errors.HasCode(err, errors.CodeUnknownAgent) {
		t.Errorf("expected UNKNOWN_AGENT, got %v", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	dir := New()
	_ = dir.Register(socialEntry())
	first, _ := dir.Resolve("social-context")
	second, _ := dir.Resolve("social-context")
	if first.Endpoint != second.Endpoint {
		t.Error("resolve returned different endpoints without re-registration")
	}
}

func TestRegisterValidation(t *testing.T) {
	dir := New()
	bad := socialEntry()
	bad.Skills = append(bad.Skills, bad.Skills[0]) // duplicate skill id
	if err := dir.Register(bad); !errors.HasCode(err, errors.CodeSchema) {
		t.Errorf("expected SCHEMA_ERROR for duplicate skill, got %v", err)
	}
	if err := dir.Register(Entry{AgentID: "x"}); !errors.HasCode(err, errors.CodeSchema) {
		t.Errorf("expected SCHEMA_ERROR for missing endpoint, got %v", err)
	}
	if err := dir.Register(Entry{AgentID: "x", Endpoint: "http://h", Skills: []Skill{{ID: "s"}}}); !errors.HasCode(err, errors.CodeSchema) {
		t.Errorf("expected SCHEMA_ERROR for nameless skill, got %v", err)
	}
}

func TestFindSkillOrdering(t *testing.T) {
	dir := New()
	_ = dir.Register(socialEntry())
	_ = dir.Register(Entry{
		AgentID:  "platform-bridge",
		Endpoint: "http://localhost:9002",
		Skills: []Skill{
			{
				ID:          "create-event",
				Name:        "Create event",
				Description: "Creates an event in the events platform.",
				Tags:        []string{"events"},
			},
		},
	})

	matches := dir.FindSkill("summarize relationship between friends")
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].AgentID != "social-context" {
		t.Errorf("expected social-context first, got %s", matches[0].AgentID)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Error("matches not ordered by descending score")
		}
	}

	if got := dir.FindSkill(""); got != nil {
		t.Errorf("empty query should match nothing, got %v", got)
	}
}

func TestRegisterManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	manifest := `agents:
  - agent_id: social-context
    description: Knows the social graph.
    endpoint: http://localhost:9001
    skills:
      - id: relationship-summary
        name: Relationship summary
        description: Summarizes friendships for a set of people.
        tags: [social, graph]
        examples:
          - who are Dev's closest friends
  - agent_id: platform-bridge
    endpoint: http://localhost:9002
    skills:
      - id: create-event
        name: Create event
        description: Creates an event in the events platform.
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	dir := New()
	if err := dir.RegisterManifest(path); err != nil {
		t.Fatalf("register manifest: %v", err)
	}
	entry, err := dir.Resolve("social-context")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(entry.Skills) != 1 || entry.Skills[0].ID != "relationship-summary" {
		t.Errorf("unexpected skills %+v", entry.Skills)
	}
	if len(entry.Skills[0].Tags) != 2 {
		t.Errorf("tags not carried over: %+v", entry.Skills[0])
	}
	if _, err := dir.Resolve("platform-bridge"); err != nil {
		t.Errorf("second entry not registered: %v", err)
	}
}

func TestRegisterManifestErrors(t *testing.T) {
	dir := New()
	if err := dir.RegisterManifest("/does/not/exist.yaml"); !errors.HasCode(err, errors.CodeSchema) {
		t.Errorf("expected SCHEMA_ERROR for missing file, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	// Missing endpoint fails entry validation.
	if err := os.WriteFile(path, []byte("agents:\n  - agent_id: x\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := dir.RegisterManifest(path); !errors.HasCode(err, errors.CodeSchema) {
		t.Errorf("expected SCHEMA_ERROR for invalid entry, got %v", err)
	}
}

func TestCardPublishAndRegister(t *testing.T) {
	card := &Card{
		AgentID:     "planner",
		Description: "Plans gatherings.",
		Skills: []Skill{
			{ID: "plan", Name: "Plan gathering", Description: "Chooses time and venue."},
		},
	}
	srv := httptest.NewServer(PublishHandler(card))
	defer srv.Close()

	dir := New()
	if err := dir.RegisterCard(context.Background(), srv.URL); err != nil {
		t.Fatalf("register card: %v", err)
	}
	entry, err := dir.Resolve("planner")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Endpoint defaults to the card's base URL.
	if entry.Endpoint != srv.URL {
		t.Errorf("expected endpoint %q, got %q", srv.URL, entry.Endpoint)
	}
}
