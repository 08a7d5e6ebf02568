package engine

import (
	"bytes"
	"context"
	"encoding/json"

	"jobengine/internal/domain"
)

// Request is what a provider receives for one job.
type Request struct {
	JobID   string
	Kind    domain.JobKind
	Input   json.RawMessage
	Locale  string
	Country string
}

// Artifact is a binary or remote output of a provider. Data, when present, is
// persisted through the ArtifactStore and replaced by its public URL.
type Artifact struct {
	Name string `json:"name,omitempty"`
	MIME string `json:"mime,omitempty"`
	URL  string `json:"url,omitempty"`
	Data []byte `json:"-"`
}

// Result is a provider's answer.
type Result struct {
	Payload   json.RawMessage
	Artifacts []Artifact
}

// Provider performs the external work behind a job kind. Invoke must honour
// ctx cancellation.
type Provider interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (Result, error)

func (f ProviderFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// ProviderSource resolves the provider serving a job kind.
type ProviderSource interface {
	Provider(kind domain.JobKind) (Provider, bool)
}

// ArtifactStore persists artifact bytes and returns a URL for them.
type ArtifactStore interface {
	Save(ctx context.Context, jobID string, artifact Artifact) (string, error)
}

var emptyPayloads = [][]byte{
	[]byte("null"),
	[]byte("{}"),
	[]byte("[]"),
	[]byte(`""`),
}

// IsEmpty reports whether a result carries nothing a user could consume.
func (r Result) IsEmpty() bool {
	if len(r.Artifacts) > 0 {
		return false
	}
	trimmed := bytes.TrimSpace(r.Payload)
	if len(trimmed) == 0 {
		return true
	}
	for _, empty := range emptyPayloads {
		if bytes.Equal(trimmed, empty) {
			return true
		}
	}
	return false
}
