package fusion

import (
	"github.com/calebsw/reforge/internal/graph"
	"github.com/calebsw/reforge/internal/logger"
)

// Options is the configuration surface of the optimizer. The head-count and
// hidden-size hints are consulted only when a matched chain's own constant
// resolution fails.
type Options struct {
	EnableFission    bool `json:"enable_fission" yaml:"enable_fission"`
	EnableBiasGelu   bool `json:"enable_bias_gelu" yaml:"enable_bias_gelu"`
	EnableAttention  bool `json:"enable_attention" yaml:"enable_attention"`
	EnableProjection bool `json:"enable_projection" yaml:"enable_projection"`

	NumHeads   int `json:"num_heads" yaml:"num_heads"`
	HiddenSize int `json:"hidden_size" yaml:"hidden_size"`
}

// DefaultOptions enables every pass and leaves the hints unset.
func DefaultOptions() Options {
	return Options{
		EnableFission:    true,
		EnableBiasGelu:   true,
		EnableAttention:  true,
		EnableProjection: true,
	}
}

// Optimize applies the enabled passes to the graph in canonical order and
// reports whether anything changed. Ordering matters: fission runs first
// because it materializes the primitive nodes later passes anchor on, then
// the elementwise preprocessing, then the structural fusions. Passes never
// run concurrently over the same graph instance.
func Optimize(g *graph.Graph, opts Options, log logger.Logger) (bool, error) {
	var passes []Pass
	if opts.EnableFission {
		passes = append(passes, NewBlockFission())
	}
	if opts.EnableBiasGelu {
		passes = append(passes, NewBiasGeluFusion())
	}
	if opts.EnableAttention {
		passes = append(passes, NewAttentionFusion(opts.NumHeads, opts.HiddenSize, log))
	}
	if opts.EnableProjection {
		passes = append(passes, NewProjectionFusion())
	}

	changed := false
	for _, p := range passes {
		applied, err := Apply(g, p, log)
		if err != nil {
			return changed, err
		}
		changed = changed || applied
	}
	return changed, nil
}
