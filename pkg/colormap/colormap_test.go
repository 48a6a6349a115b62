package colormap

import (
	"image/color"
	"testing"
)

func TestBluesColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Blues.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 247, G: 251, B: 255, A: 255}) {
		t.Fatalf("unexpected Blues.At(0): %#v", c0)
	}

	c1, ok := Blues.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 8, G: 48, B: 107, A: 255}) {
		t.Fatalf("unexpected Blues.At(1): %#v", c1)
	}
}

func TestBluesColormapClamps(t *testing.T) {
	t.Parallel()

	if Blues.At(-0.5) != Blues.At(0) {
		t.Fatalf("expected At to clamp below 0")
	}
	if Blues.At(1.5) != Blues.At(1) {
		t.Fatalf("expected At to clamp above 1")
	}
}

func TestSeuratColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Seurat.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 211, G: 211, B: 211, A: 255}) {
		t.Fatalf("unexpected Seurat.At(0): %#v", c0)
	}

	c1, ok := Seurat.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 0, B: 0, A: 255}) {
		t.Fatalf("unexpected Seurat.At(1): %#v", c1)
	}
}
