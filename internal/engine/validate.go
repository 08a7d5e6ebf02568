package engine

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"jobengine/internal/domain"
)

const (
	maxInputBytes  = 64 << 10
	maxImageInputs = 4
)

// SubmitRequest is a caller's ask to run one job.
type SubmitRequest struct {
	UserID  string
	Kind    domain.JobKind
	Input   json.RawMessage
	Locale  string
	Country string
	RetryOf string
}

func validateSubmit(req SubmitRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &domain.ValidationError{Field: "user_id", Message: "required"}
	}
	if !req.Kind.Valid() {
		return &domain.ValidationError{Field: "kind", Message: "unknown job kind " + string(req.Kind)}
	}
	trimmed := bytes.TrimSpace(req.Input)
	if len(trimmed) == 0 {
		return &domain.ValidationError{Field: "input", Message: "required"}
	}
	if len(trimmed) > maxInputBytes {
		return &domain.ValidationError{Field: "input", Message: "too large"}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return &domain.ValidationError{Field: "input", Message: "must be a JSON object"}
	}

	switch req.Kind {
	case domain.JobKindImageCompose:
		return validateImages(fields["images"])
	case domain.JobKindMarketAnalysis:
		return requireString(fields, "product")
	case domain.JobKindProductDiscovery:
		return requireString(fields, "query")
	}
	return nil
}

func requireString(fields map[string]json.RawMessage, name string) error {
	raw, ok := fields[name]
	if !ok {
		return &domain.ValidationError{Field: "input." + name, Message: "required"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return &domain.ValidationError{Field: "input." + name, Message: "must be a string"}
	}
	if strings.TrimSpace(s) == "" {
		return &domain.ValidationError{Field: "input." + name, Message: "must not be blank"}
	}
	return nil
}

func validateImages(raw json.RawMessage) error {
	if len(raw) == 0 {
		return &domain.ValidationError{Field: "input.images", Message: "required"}
	}
	var images []string
	if err := json.Unmarshal(raw, &images); err != nil {
		return &domain.ValidationError{Field: "input.images", Message: "must be an array of URLs"}
	}
	if len(images) == 0 {
		return &domain.ValidationError{Field: "input.images", Message: "must not be empty"}
	}
	if len(images) > maxImageInputs {
		return &domain.ValidationError{Field: "input.images", Message: "too many images"}
	}
	for _, img := range images {
		u, err := url.Parse(strings.TrimSpace(img))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &domain.ValidationError{Field: "input.images", Message: "invalid image URL"}
		}
	}
	return nil
}
