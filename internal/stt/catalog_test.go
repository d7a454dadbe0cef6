package stt

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestCatalogValidate(t *testing.T) {
	c := NewCatalog("/models", []string{"base", "small", "large-V3"})
	tests := []struct {
		in      string
		want    Model
		wantErr bool
	}{
		{in: "small", want: "small"},
		{in: " SMALL ", want: "small"},
		{in: "large-v3", want: "large-v3"},
		{in: "large-V3", want: "large-v3"},
		{in: "medium", wantErr: true},
		{in: "", wantErr: true},
		{in: "../etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		got, err := c.Validate(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownModel) {
				t.Errorf("Validate(%q) error = %v, want ErrUnknownModel", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Validate(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if got := c.ModelPath("small"); got != filepath.Join("/models", "ggml-small.bin") {
		t.Errorf("ModelPath = %s", got)
	}
}

func TestCatalogAvailable(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"ggml-small.bin",
		"ggml-small.en.bin",
		"ggml-base.bin",
		"ggml-tiny.bin",
		"for-tests-ggml-base.bin",
		"ggml-large-v3.bin",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "ggml-medium.bin"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCatalog(dir, []string{"base", "small", "medium", "large", "large-v3"})
	got, err := c.Available()
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	want := []string{"base", "large-v3", "small", "small.en"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Available() = %v, want %v", got, want)
	}

	sel := c.Selectable()
	wantSel := []Model{"base", "small", "large-v3"}
	if !reflect.DeepEqual(sel, wantSel) {
		t.Fatalf("Selectable() = %v, want %v", sel, wantSel)
	}
}

func TestCatalogSelectableFallsBack(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "missing"), []string{"small", "base"})
	if got := c.Selectable(); !reflect.DeepEqual(got, []Model{"small", "base"}) {
		t.Fatalf("Selectable() = %v", got)
	}
}
