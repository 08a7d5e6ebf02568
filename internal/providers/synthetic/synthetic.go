// Package synthetic is a local provider for development and load tests. It
// never calls out and answers every kind deterministically.
package synthetic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strings"
	"time"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
)

// Simulation modes selected by the "simulate" input field.
const (
	SimulateFail  = "fail"
	SimulateEmpty = "empty"
	SimulateSlow  = "slow"
)

type Options struct {
	// Latency is added to every call. Slow calls wait SlowLatency instead.
	Latency     time.Duration
	SlowLatency time.Duration
}

type Provider struct {
	latency     time.Duration
	slowLatency time.Duration
}

func New(opts Options) *Provider {
	if opts.SlowLatency <= 0 {
		opts.SlowLatency = 10 * time.Minute
	}
	return &Provider{latency: opts.Latency, slowLatency: opts.SlowLatency}
}

type input struct {
	Simulate string   `json:"simulate"`
	Product  string   `json:"product"`
	Query    string   `json:"query"`
	Images   []string `json:"images"`
}

func (p *Provider) Invoke(ctx context.Context, req engine.Request) (engine.Result, error) {
	var in input
	if err := json.Unmarshal(req.Input, &in); err != nil {
		return engine.Result{}, fmt.Errorf("synthetic: decode input: %w", err)
	}

	wait := p.latency
	if strings.EqualFold(in.Simulate, SimulateSlow) {
		wait = p.slowLatency
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	switch strings.ToLower(in.Simulate) {
	case SimulateFail:
		return engine.Result{}, errors.New("synthetic: simulated failure")
	case SimulateEmpty:
		return engine.Result{Payload: json.RawMessage(`{}`)}, nil
	}

	switch req.Kind {
	case domain.JobKindMarketAnalysis:
		return marshal(map[string]any{
			"summary":         fmt.Sprintf("Synthetic analysis for %s.", in.Product),
			"demand":          []string{"low", "medium", "high"}[seed(in.Product)%3],
			"target_segments": []string{"students", "office workers"},
			"locale":          req.Locale,
			"country":         req.Country,
		})
	case domain.JobKindProductDiscovery:
		products := make([]map[string]string, 0, 3)
		for i := 1; i <= 3; i++ {
			products = append(products, map[string]string{
				"name":   fmt.Sprintf("%s #%d", in.Query, i),
				"reason": "synthetic suggestion",
			})
		}
		return marshal(map[string]any{"products": products, "locale": req.Locale})
	case domain.JobKindImageCompose:
		arts := make([]engine.Artifact, 0, len(in.Images))
		for i, src := range in.Images {
			data, err := swatch(seed(src))
			if err != nil {
				return engine.Result{}, err
			}
			arts = append(arts, engine.Artifact{
				Name: fmt.Sprintf("compose-%d.png", i+1),
				MIME: "image/png",
				Data: data,
			})
		}
		res, err := marshal(map[string]any{"source_count": len(in.Images)})
		res.Artifacts = arts
		return res, err
	default:
		return engine.Result{}, fmt.Errorf("synthetic: unsupported kind %s", req.Kind)
	}
}

func marshal(v any) (engine.Result, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Payload: raw}, nil
}

func seed(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// swatch renders a small solid PNG whose colour derives from s.
func swatch(s uint32) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	c := color.RGBA{R: uint8(s), G: uint8(s >> 8), B: uint8(s >> 16), A: 0xff}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ engine.Provider = (*Provider)(nil)
