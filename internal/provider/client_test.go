package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMediaURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/MID1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"url":       "https://cdn.example.com/tmp/abc",
			"mime_type": "image/jpeg",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	url, err := c.MediaURL(context.Background(), "MID1", "tok")
	if err != nil {
		t.Fatalf("MediaURL() error: %v", err)
	}
	if url != "https://cdn.example.com/tmp/abc" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestMediaURL_Non200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.MediaURL(context.Background(), "MID1", "tok")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status code in error, got: %v", err)
	}
}

func TestMediaURL_MissingURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"mime_type":"image/jpeg"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.MediaURL(context.Background(), "MID1", "tok")
	if err == nil {
		t.Fatalf("expected error for response without url")
	}
}

func TestDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization %q", got)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	data, mimeType, err := c.Download(context.Background(), srv.URL+"/file", "tok")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected bytes %q", data)
	}
	if mimeType != "image/png" {
		t.Fatalf("unexpected content type %q", mimeType)
	}
}

func TestDownload_Non200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, _, err := c.Download(context.Background(), srv.URL+"/file", "tok")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestSendTemplate(t *testing.T) {
	t.Parallel()

	var captured struct {
		MessagingProduct string `json:"messaging_product"`
		To               string `json:"to"`
		Type             string `json:"type"`
		Template         struct {
			Name     string `json:"name"`
			Language struct {
				Code string `json:"code"`
			} `json:"language"`
			Components []struct {
				Type       string `json:"type"`
				Parameters []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"parameters"`
			} `json:"components"`
		} `json:"template"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/PN1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.OUT"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	id, err := c.SendTemplate(context.Background(), "tok", "PN1", "36301234567", "appointment_reminder", "en", []string{"Anna", "Friday"})
	if err != nil {
		t.Fatalf("SendTemplate() error: %v", err)
	}
	if id != "wamid.OUT" {
		t.Fatalf("unexpected message id %q", id)
	}

	if captured.MessagingProduct != "whatsapp" || captured.To != "36301234567" || captured.Type != "template" {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.Template.Name != "appointment_reminder" || captured.Template.Language.Code != "en" {
		t.Fatalf("unexpected template block %+v", captured.Template)
	}
	if len(captured.Template.Components) != 1 {
		t.Fatalf("expected one body component, got %d", len(captured.Template.Components))
	}
	params := captured.Template.Components[0].Parameters
	if len(params) != 2 || params[0].Text != "Anna" || params[1].Text != "Friday" {
		t.Fatalf("unexpected parameters %+v", params)
	}
}

func TestSendTemplate_NoVariablesOmitsComponents(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		tpl := body["template"].(map[string]any)
		if _, ok := tpl["components"]; ok {
			t.Errorf("components must be omitted without variables")
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.OUT"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.SendTemplate(context.Background(), "tok", "PN1", "36301234567", "plain", "", nil); err != nil {
		t.Fatalf("SendTemplate() error: %v", err)
	}
}

func TestSendTemplate_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"template not approved"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.SendTemplate(context.Background(), "tok", "PN1", "36301234567", "bad", "en", nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status code in error, got: %v", err)
	}
}

func TestSendTemplate_MissingMessageID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.SendTemplate(context.Background(), "tok", "PN1", "36301234567", "t", "en", nil)
	if err == nil {
		t.Fatalf("expected error for empty messages array")
	}
}
