package api

import (
	json "github.com/goccy/go-json"

	"github.com/calebsw/reforge/internal/fusion"
)

// OptimizeRequest carries a graph and optional pass toggles. A nil options
// object means every pass runs with defaults.
type OptimizeRequest struct {
	Graph   json.RawMessage `json:"graph"`
	Options *OptimizeOpts   `json:"options,omitempty"`
}

// OptimizeOpts mirrors fusion.Options with pointer fields so absent toggles
// fall back to the server defaults.
type OptimizeOpts struct {
	Fission    *bool `json:"fission,omitempty"`
	BiasGelu   *bool `json:"bias_gelu,omitempty"`
	Attention  *bool `json:"attention,omitempty"`
	Projection *bool `json:"projection,omitempty"`
	NumHeads   int   `json:"num_heads,omitempty"`
	HiddenSize int   `json:"hidden_size,omitempty"`
}

func (o *OptimizeOpts) apply(base fusion.Options) fusion.Options {
	if o == nil {
		return base
	}
	if o.Fission != nil {
		base.EnableFission = *o.Fission
	}
	if o.BiasGelu != nil {
		base.EnableBiasGelu = *o.BiasGelu
	}
	if o.Attention != nil {
		base.EnableAttention = *o.Attention
	}
	if o.Projection != nil {
		base.EnableProjection = *o.Projection
	}
	if o.NumHeads > 0 {
		base.NumHeads = o.NumHeads
	}
	if o.HiddenSize > 0 {
		base.HiddenSize = o.HiddenSize
	}
	return base
}

// OptimizeResponse reports the outcome of one optimization run.
type OptimizeResponse struct {
	ID       string          `json:"id"`
	Changed  bool            `json:"changed"`
	OpCounts map[string]int  `json:"op_counts"`
	Graph    json.RawMessage `json:"graph"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ResponseError is the error payload shape shared by all endpoints.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
