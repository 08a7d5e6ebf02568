package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
)

func qwenServer(t *testing.T, handle func(w http.ResponseWriter, req qwenRequest)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		if !strings.HasSuffix(r.URL.Path, "/services/aigc/multimodal-generation/generation") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var payload qwenRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		handle(w, payload)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeImage(w http.ResponseWriter, url string) {
	_, _ = w.Write([]byte(`{"output":{"choices":[{"message":{"content":[{"image":"` + url + `"}]}}]}}`))
}

func composeRequest(input string) engine.Request {
	return engine.Request{JobID: "job-1", Kind: domain.JobKindImageCompose, Input: json.RawMessage(input)}
}

func TestComposerEditsEveryImage(t *testing.T) {
	var calls atomic.Int32
	ts := qwenServer(t, func(w http.ResponseWriter, req qwenRequest) {
		n := calls.Add(1)
		if req.Model != "qwen-image-edit" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		if len(req.Input.Messages) != 1 || len(req.Input.Messages[0].Content) != 2 {
			t.Errorf("unexpected message shape: %+v", req.Input.Messages)
		}
		if !strings.Contains(req.Input.Messages[0].Content[1].Text, "Gaya visual: minimalis.") {
			t.Errorf("instruction missing style: %s", req.Input.Messages[0].Content[1].Text)
		}
		if n == 1 {
			writeImage(w, "https://oss.test/out-a.jpg?sig=1")
			return
		}
		writeImage(w, "https://oss.test/out-b")
	})

	c := NewComposer(Options{APIKey: "test-key", BaseURL: ts.URL})
	res, err := c.Invoke(context.Background(), composeRequest(`{"images":["https://in.test/a.png","https://in.test/b.png"],"style":"minimalis"}`))
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if len(res.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(res.Artifacts))
	}
	if res.Artifacts[0].Name != "compose-1.jpg" || res.Artifacts[0].MIME != "image/jpeg" {
		t.Fatalf("unexpected first artifact: %+v", res.Artifacts[0])
	}
	if res.Artifacts[1].URL != "https://oss.test/out-b" || res.Artifacts[1].Name != "compose-2.png" {
		t.Fatalf("unexpected second artifact: %+v", res.Artifacts[1])
	}
	if res.IsEmpty() {
		t.Fatal("result should not be empty")
	}
}

func TestComposerSurfacesAPIError(t *testing.T) {
	ts := qwenServer(t, func(w http.ResponseWriter, _ qwenRequest) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"InvalidParameter","message":"image too small"}`))
	})
	c := NewComposer(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := c.Invoke(context.Background(), composeRequest(`{"images":["https://in.test/a.png"]}`))
	if err == nil || !strings.Contains(err.Error(), "image too small") {
		t.Fatalf("err = %v, want API message", err)
	}
}

func TestComposerEmptyResponse(t *testing.T) {
	ts := qwenServer(t, func(w http.ResponseWriter, _ qwenRequest) {
		_, _ = w.Write([]byte(`{"output":{"choices":[]}}`))
	})
	c := NewComposer(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := c.Invoke(context.Background(), composeRequest(`{"images":["https://in.test/a.png"]}`))
	if !errors.Is(err, domain.ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", err)
	}
}

func TestComposerMissingKey(t *testing.T) {
	c := NewComposer(Options{})
	if _, err := c.Invoke(context.Background(), composeRequest(`{"images":["https://in.test/a.png"]}`)); err == nil {
		t.Fatal("expected error when api key missing")
	}
}

func TestBuildInstruction(t *testing.T) {
	got := BuildInstruction(ComposeInput{Title: "Kopi Gayo", ProductType: "minuman", AspectRatio: "1:1"})
	for _, want := range []string{`"Kopi Gayo" (jenis: minuman)`, "rasio 1:1", "Pertahankan bentuk produk asli"} {
		if !strings.Contains(got, want) {
			t.Fatalf("instruction %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "Gaya visual") {
		t.Fatalf("unexpected style clause in %q", got)
	}
}
