package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func restBackend(t *testing.T) (*httptest.Server, *MemoryService) {
	t.Helper()
	store := NewMemoryService()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		created, _ := store.Create(r.Context(), event)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		list, _ := store.List(r.Context())
		_ = json.NewEncoder(w).Encode(list)
	})
	mux.HandleFunc("GET /events/{id}", func(w http.ResponseWriter, r *http.Request) {
		event, err := store.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(event)
	})
	mux.HandleFunc("PUT /events/{id}", func(w http.ResponseWriter, r *http.Request) {
		var event Event
		_ = json.NewDecoder(r.Body).Decode(&event)
		event.ID = r.PathValue("id")
		updated, err := store.Update(r.Context(), event)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(updated)
	})
	mux.HandleFunc("DELETE /events/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.Context(), r.PathValue("id")); err != nil {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestClientCRUD(t *testing.T) {
	srv, _ := restBackend(t)
	client := NewClient(srv.URL, WithAPIKey("secret"))
	ctx := context.Background()

	created, err := client.Create(ctx, Event{
		Title:    "board game night",
		Location: "ana's place",
		StartsAt: time.Date(2026, 9, 12, 19, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created event has no id")
	}

	fetched, err := client.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Title != "board game night" {
		t.Errorf("unexpected title %q", fetched.Title)
	}

	fetched.Attendees = []string{"ana", "ben"}
	updated, err := client.Update(ctx, *fetched)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Attendees) != 2 {
		t.Errorf("attendees not updated: %+v", updated.Attendees)
	}

	list, err := client.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 event, got %d", len(list))
	}

	if err := client.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.Get(ctx, created.ID); err == nil {
		t.Error("expected error fetching deleted event")
	}
}

func TestClientUpdateRequiresID(t *testing.T) {
	client := NewClient("http://localhost:0")
	if _, err := client.Update(context.Background(), Event{Title: "orphan"}); err == nil {
		t.Fatal("expected error for update without id")
	}
}

func TestMemoryServiceListOrder(t *testing.T) {
	store := NewMemoryService()
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	for _, offset := range []int{3, 1, 2} {
		if _, err := store.Create(ctx, Event{
			Title:    "event",
			StartsAt: base.AddDate(0, 0, offset),
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	list, _ := store.List(ctx)
	for i := 1; i < len(list); i++ {
		if list[i].StartsAt.Before(list[i-1].StartsAt) {
			t.Fatalf("list not ordered by start time: %+v", list)
		}
	}
}
