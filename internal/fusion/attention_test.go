package fusion

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/calebsw/reforge/internal/graph"
	"github.com/calebsw/reforge/internal/logger"
)

// buildAttentionGraph lays out one unfused encoder attention block: Q, K and V
// projection chains off a shared root, scaled Q, the masked-softmax score
// path, the context reshape/transpose pair and the output projection, closed
// by a skip-normalization. Head count 8 and head size 64 sit in the Q-reshape
// shape Concat.
func buildAttentionGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New("encoder")
	g.OpsetVersion = 14
	g.Inputs = []string{"embed"}
	g.Outputs = []string{"final_out"}

	for _, name := range []string{
		"sln1_w", "sln1_b", "sln2_w", "sln2_b",
		"q_w", "q_bias", "k_w", "k_bias", "v_w", "v_bias",
		"proj_w", "proj_bias", "scale",
		"shape_a", "shape_a2", "shape_b",
		"shape_k1", "shape_k2", "shape_v1", "shape_v2",
		"shape_ctx", "shape_qkv", "expand_shape",
		"less_x", "less_y", "where_a", "where_b",
	} {
		g.AddInitializer(graph.FloatTensor(name, []int64{4}, nil))
	}
	g.AddInitializer(graph.ScalarInt("d0", -1))
	g.AddInitializer(graph.ScalarInt("d1", -1))
	g.AddInitializer(graph.ScalarInt("heads", 8))
	g.AddInitializer(graph.ScalarInt("hsize", 64))

	mustAdd(t, g,
		graph.NewNode(graph.OpSkipLayerNormalization, "sln1",
			[]string{"embed", "sln1_w", "sln1_b"}, []string{"root"}),

		// Q: MatMul -> Add -> Mul(scale) -> Reshape -> Transpose -> Reshape.
		graph.NewNode(graph.OpMatMul, "matmul_q", []string{"root", "q_w"}, []string{"q_mm"}),
		graph.NewNode(graph.OpAdd, "add_q", []string{"q_mm", "q_bias"}, []string{"q_add"}),
		graph.NewNode(graph.OpMul, "mul_q", []string{"q_add", "scale"}, []string{"q_scaled"}),
		graph.NewNode(graph.OpConcat, "concat_qshape",
			[]string{"d0", "d1", "heads", "hsize"}, []string{"q_shape"}),
		graph.NewNode(graph.OpReshape, "reshape_q1", []string{"q_scaled", "q_shape"}, []string{"q_r1"}),
		graph.NewNode(graph.OpTranspose, "transpose_q", []string{"q_r1"}, []string{"q_t"}),
		graph.NewNode(graph.OpReshape, "reshape_q2", []string{"q_t", "shape_a"}, []string{"q_final"}),

		// K: MatMul -> Add -> Reshape -> Transpose -> Reshape -> Transpose.
		graph.NewNode(graph.OpMatMul, "matmul_k", []string{"root", "k_w"}, []string{"k_mm"}),
		graph.NewNode(graph.OpAdd, "add_k", []string{"k_mm", "k_bias"}, []string{"k_add"}),
		graph.NewNode(graph.OpReshape, "reshape_k1", []string{"k_add", "shape_k1"}, []string{"k_r1"}),
		graph.NewNode(graph.OpTranspose, "transpose_k1", []string{"k_r1"}, []string{"k_t1"}),
		graph.NewNode(graph.OpReshape, "reshape_k2", []string{"k_t1", "shape_k2"}, []string{"k_r2"}),
		graph.NewNode(graph.OpTranspose, "transpose_k2", []string{"k_r2"}, []string{"k_final"}),

		// V: MatMul -> Add -> Reshape -> Transpose -> Reshape.
		graph.NewNode(graph.OpMatMul, "matmul_v", []string{"root", "v_w"}, []string{"v_mm"}),
		graph.NewNode(graph.OpAdd, "add_v", []string{"v_mm", "v_bias"}, []string{"v_add"}),
		graph.NewNode(graph.OpReshape, "reshape_v1", []string{"v_add", "shape_v1"}, []string{"v_r1"}),
		graph.NewNode(graph.OpTranspose, "transpose_v", []string{"v_r1"}, []string{"v_t"}),
		graph.NewNode(graph.OpReshape, "reshape_v2", []string{"v_t", "shape_v2"}, []string{"v_final"}),

		// Scores: QK^T, mask add, softmax.
		graph.NewNode(graph.OpMatMul, "matmul_qk", []string{"q_final", "k_final"}, []string{"qk_out"}),
		graph.NewNode(graph.OpReshape, "reshape_b", []string{"qk_out", "shape_b"}, []string{"scores"}),
		graph.NewNode(graph.OpAdd, "add_mask", []string{"scores", "mask_out"}, []string{"masked"}),
		graph.NewNode(graph.OpReshape, "reshape_a", []string{"masked", "shape_a2"}, []string{"probs_in"}),
		graph.NewNode(graph.OpSoftmax, "softmax", []string{"probs_in"}, []string{"probs"}),

		// Causal mask: Less -> Where -> Unsqueeze x2 -> Expand -> Concat.
		graph.NewNode(graph.OpLess, "less", []string{"less_x", "less_y"}, []string{"less_out"}),
		graph.NewNode(graph.OpWhere, "where", []string{"less_out", "where_a", "where_b"}, []string{"where_out"}),
		graph.NewNode(graph.OpUnsqueeze, "unsq1", []string{"where_out"}, []string{"u1"}),
		graph.NewNode(graph.OpUnsqueeze, "unsq2", []string{"u1"}, []string{"u2"}),
		graph.NewNode(graph.OpExpand, "expand", []string{"u2", "expand_shape"}, []string{"exp_out"}),
		graph.NewNode(graph.OpConcat, "concat_mask", []string{"exp_out"}, []string{"mask_out"}),

		// Context and output projection.
		graph.NewNode(graph.OpMatMul, "matmul_qkv", []string{"probs", "v_final"}, []string{"ctx"}),
		graph.NewNode(graph.OpReshape, "reshape_ctx", []string{"ctx", "shape_ctx"}, []string{"ctx_r"}),
		graph.NewNode(graph.OpTranspose, "transpose_qkv", []string{"ctx_r"}, []string{"ctx_t"}),
		graph.NewNode(graph.OpReshape, "reshape_qkv", []string{"ctx_t", "shape_qkv"}, []string{"attn_out"}),
		graph.NewNode(graph.OpMatMul, "proj_matmul", []string{"attn_out", "proj_w"}, []string{"proj_mm"}),
		graph.NewNode(graph.OpAdd, "add_final", []string{"proj_mm", "proj_bias"}, []string{"attn_add_out"}),
		graph.NewNode(graph.OpSkipLayerNormalization, "sln2",
			[]string{"attn_add_out", "root", "sln2_w", "sln2_b"}, []string{"final_out"}),
	)
	return g
}

func TestAttentionFusion(t *testing.T) {
	g := buildAttentionGraph(t)
	if len(g.Nodes) != 37 {
		t.Fatalf("test graph drifted: %d nodes", len(g.Nodes))
	}

	pass := NewAttentionFusion(0, 0, logger.Discard())
	changed, err := Apply(g, pass, logger.Discard())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Fatal("expected fusion to fire")
	}

	want := map[string]bool{"sln1": true, "sln2": true, "add_final": true, "proj_matmul": true, "Attention_0": true}
	got := nodeNames(g)
	if len(got) != len(want) {
		t.Fatalf("expected %d survivors, got %d: %v", len(want), len(got), got)
	}
	for name := range want {
		if !got[name] {
			t.Fatalf("missing survivor %q in %v", name, got)
		}
	}

	attn := g.Producer("attn_out")
	if attn == nil || attn.Op != graph.OpAttention {
		t.Fatalf("expected Attention producing attn_out, got %v", attn)
	}
	wantIn := []string{"root", "q_w", "k_w", "v_w", "q_bias", "k_bias", "v_bias"}
	for i, in := range wantIn {
		if attn.Inputs[i] != in {
			t.Fatalf("attention input %d = %q, want %q", i, attn.Inputs[i], in)
		}
	}
	if heads := attn.IntAttrOr("num_heads", 0); heads != 8 {
		t.Fatalf("detected num_heads = %d, want 8", heads)
	}
	if attn.IntAttrOr("unidirectional", 0) != 1 {
		t.Fatal("fused attention must be causal")
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("fused graph invalid: %v", err)
	}
	if err := g.Sort(); err != nil {
		t.Fatalf("fused graph not sortable: %v", err)
	}
}

func TestAttentionFusionHintConflictWarnsOnce(t *testing.T) {
	g := buildAttentionGraph(t)

	var buf bytes.Buffer
	pass := NewAttentionFusion(4, 0, logger.Text(&buf, slog.LevelWarn))
	if _, err := Apply(g, pass, logger.Discard()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	attn := g.Producer("attn_out")
	if attn == nil || attn.IntAttrOr("num_heads", 0) != 8 {
		t.Fatalf("detected value must win over the hint, got %v", attn)
	}
	if n := strings.Count(buf.String(), "overridden"); n != 1 {
		t.Fatalf("expected exactly one override warning, got %d:\n%s", n, buf.String())
	}
}

func TestAttentionFusionSkipsLowOpset(t *testing.T) {
	g := buildAttentionGraph(t)
	g.OpsetVersion = 11

	var buf bytes.Buffer
	pass := NewAttentionFusion(0, 0, logger.Text(&buf, slog.LevelWarn))
	changed, err := Apply(g, pass, logger.Discard())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Fatal("fusion must not fire below the minimum opset")
	}
	if len(g.Nodes) != 37 {
		t.Fatalf("graph mutated: %d nodes", len(g.Nodes))
	}
	if !strings.Contains(buf.String(), "opset too low") {
		t.Fatalf("expected opset warning, got:\n%s", buf.String())
	}
}

func TestAttentionFusionSkipsMismatchedRoots(t *testing.T) {
	g := buildAttentionGraph(t)
	// Detach the V projection from the shared root.
	mustAdd(t, g, graph.NewNode(graph.OpGelu, "detour", []string{"root"}, []string{"other_root"}))
	g.Producer("v_mm").Inputs[0] = "other_root"
	g.Invalidate()

	changed, err := Apply(g, NewAttentionFusion(0, 0, logger.Discard()), logger.Discard())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Fatal("fusion must require one shared root input")
	}
}
