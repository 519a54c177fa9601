package journey

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestCRMUpdateProperty(t *testing.T) {
	userID := uuid.New()
	var gotMethod, gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewHTTPCRMClient(CRMConfig{BaseURL: server.URL}, zap.NewNop())

	if err := c.UpdateProperty(context.Background(), userID, "plan", "premium"); err != nil {
		t.Fatalf("UpdateProperty: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	wantPath := fmt.Sprintf("/v1/users/%s/properties/plan", userID)
	if gotPath != wantPath {
		t.Errorf("path = %q, want %q", gotPath, wantPath)
	}
	if gotBody["value"] != "premium" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestCRMAddTag(t *testing.T) {
	userID := uuid.New()
	var gotMethod, gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := NewHTTPCRMClient(CRMConfig{BaseURL: server.URL}, zap.NewNop())

	if err := c.AddTag(context.Background(), userID, "vip"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	wantPath := fmt.Sprintf("/v1/users/%s/tags", userID)
	if gotPath != wantPath {
		t.Errorf("path = %q, want %q", gotPath, wantPath)
	}
	if gotBody["tag"] != "vip" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestCRMRemoveTag(t *testing.T) {
	userID := uuid.New()
	var gotMethod, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewHTTPCRMClient(CRMConfig{BaseURL: server.URL}, zap.NewNop())

	if err := c.RemoveTag(context.Background(), userID, "vip"); err != nil {
		t.Fatalf("RemoveTag: %v", err)
	}

	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", gotMethod)
	}
	wantPath := fmt.Sprintf("/v1/users/%s/tags/vip", userID)
	if gotPath != wantPath {
		t.Errorf("path = %q, want %q", gotPath, wantPath)
	}
}

func TestCRMServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewHTTPCRMClient(CRMConfig{BaseURL: server.URL}, zap.NewNop())

	if err := c.AddTag(context.Background(), uuid.New(), "vip"); err == nil {
		t.Error("5xx response should return an error")
	}
}

func TestCRMUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewHTTPCRMClient(CRMConfig{BaseURL: url}, zap.NewNop())

	if err := c.UpdateProperty(context.Background(), uuid.New(), "plan", "basic"); err == nil {
		t.Error("unreachable service should return an error")
	}
}
