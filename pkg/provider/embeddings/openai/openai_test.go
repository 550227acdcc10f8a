package openai

import "testing"

func TestDimensions_KnownModels(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", fallbackDimensions},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p := &Provider{model: tt.model}
			if got := p.Dimensions(); got != tt.want {
				t.Errorf("Dimensions(%s) = %d, want %d", tt.model, got, tt.want)
			}
		})
	}
}

func TestModelID_ReturnsConfiguredModel(t *testing.T) {
	p := &Provider{model: "my-custom-embeddings-model"}
	if got := p.ModelID(); got != "my-custom-embeddings-model" {
		t.Errorf("ModelID() = %q", got)
	}
}

func TestNew_EmptyModelUsesDefault(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("model = %s, want %s", p.ModelID(), DefaultModel)
	}
}

func TestNew_RejectsEmptyAPIKey(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_AcceptsOptions(t *testing.T) {
	_, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://gateway.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
}

func TestNarrow(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := narrow(in)
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range out {
		if out[i] != float32(in[i]) {
			t.Errorf("index %d: got %v, want %v", i, out[i], float32(in[i]))
		}
	}
}
