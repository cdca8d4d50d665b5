// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package despeck

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"
)

var (
	black = color.RGBA{0, 0, 0, 255}
	white = color.RGBA{255, 255, 255, 255}
)

// page returns a white image with the given rectangles filled with
// ink.
func page(w, h int, ink color.RGBA, clusters ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{white}, image.Point{}, draw.Src)
	for _, c := range clusters {
		draw.Draw(img, c, &image.Uniform{ink}, image.Point{}, draw.Src)
	}
	return img
}

func TestAnalyseEmptyImage(t *testing.T) {
	cases := []image.Rectangle{
		image.Rect(0, 0, 0, 0),
		image.Rect(0, 0, 10, 0),
		image.Rect(0, 0, 0, 10),
	}
	for _, c := range cases {
		_, err := NewAnalyser().Analyse(image.NewRGBA(c))
		if !errors.Is(err, ErrEmptyImage) {
			t.Errorf("Expected ErrEmptyImage for bounds %v, got %v", c, err)
		}
	}
}

func TestAnalyseBlankPage(t *testing.T) {
	a, err := NewAnalyser().Analyse(page(20, 20, black))
	if err != nil {
		t.Fatalf("Analyse failed: %v", err)
	}
	if len(a.Graphemes) != 0 {
		t.Errorf("Expected no graphemes on a blank page, got %d", len(a.Graphemes))
	}
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			if a.GraphemeAt(x, y) != -1 {
				t.Fatalf("Expected pixel (%d, %d) to be background", x, y)
			}
		}
	}
}

// TestPartition checks the central invariant of an analysed image:
// every pixel is either background or a member of exactly one
// grapheme.
func TestPartition(t *testing.T) {
	img := page(100, 100, black,
		image.Rect(10, 10, 20, 20),
		image.Rect(40, 12, 45, 30),
		image.Rect(70, 70, 71, 71),
		image.Rect(0, 95, 100, 100))
	a, err := NewAnalyser().Analyse(img)
	if err != nil {
		t.Fatalf("Analyse failed: %v", err)
	}
	if len(a.Graphemes) != 4 {
		t.Fatalf("Expected 4 graphemes, got %d", len(a.Graphemes))
	}

	var members int
	for i, g := range a.Graphemes {
		members += len(g.Pixels)
		for _, p := range g.Pixels {
			if a.GraphemeAt(p.X, p.Y) != i {
				t.Fatalf("Pixel (%d, %d) of grapheme %d maps to grapheme %d", p.X, p.Y, i, a.GraphemeAt(p.X, p.Y))
			}
		}
	}

	var background int
	for y := 0; y < a.Height(); y++ {
		for x := 0; x < a.Width(); x++ {
			if a.GraphemeAt(x, y) == -1 {
				background++
			}
		}
	}
	if members+background != a.Width()*a.Height() {
		t.Errorf("Grapheme members (%d) and background pixels (%d) don't cover the %d pixel image exactly",
			members, background, a.Width()*a.Height())
	}
}

// TestBoundingBoxes checks that every grapheme's bounding box is the
// minimal rectangle enclosing its pixels.
func TestBoundingBoxes(t *testing.T) {
	img := page(60, 60, black,
		image.Rect(5, 8, 17, 13),
		image.Rect(30, 30, 31, 50),
		image.Rect(50, 2, 55, 3))
	a, err := NewAnalyser().Analyse(img)
	if err != nil {
		t.Fatalf("Analyse failed: %v", err)
	}
	for i, g := range a.Graphemes {
		if g.Top > g.Bottom || g.Left > g.Right {
			t.Fatalf("Grapheme %d has an inverted bounding box: %d %d %d %d", i, g.Top, g.Bottom, g.Left, g.Right)
		}
		top, bottom, left, right := a.Height(), -1, a.Width(), -1
		for _, p := range g.Pixels {
			if p.X < g.Left || p.X > g.Right || p.Y < g.Top || p.Y > g.Bottom {
				t.Fatalf("Pixel (%d, %d) of grapheme %d lies outside its bounding box", p.X, p.Y, i)
			}
			if p.X < left {
				left = p.X
			}
			if p.X > right {
				right = p.X
			}
			if p.Y < top {
				top = p.Y
			}
			if p.Y > bottom {
				bottom = p.Y
			}
		}
		if top != g.Top || bottom != g.Bottom || left != g.Left || right != g.Right {
			t.Errorf("Grapheme %d bounding box %d %d %d %d is not tight (expected %d %d %d %d)",
				i, g.Top, g.Bottom, g.Left, g.Right, top, bottom, left, right)
		}
	}
}

// TestLightEdges checks that moderately light pixels next to dark
// strokes join the stroke's grapheme, while the same shade out on
// its own is treated as background.
func TestLightEdges(t *testing.T) {
	grey := color.RGBA{150, 150, 150, 255}
	img := page(50, 50, black, image.Rect(10, 10, 15, 15))
	// light halo pixel touching the stroke, and an identical pixel
	// off by itself
	img.SetRGBA(15, 12, grey)
	img.SetRGBA(40, 40, grey)

	a, err := NewAnalyser().Analyse(img)
	if err != nil {
		t.Fatalf("Analyse failed: %v", err)
	}
	if len(a.Graphemes) != 1 {
		t.Fatalf("Expected 1 grapheme, got %d", len(a.Graphemes))
	}
	if a.GraphemeAt(15, 12) != 0 {
		t.Errorf("Expected halo pixel to join the stroke's grapheme, got %d", a.GraphemeAt(15, 12))
	}
	if a.GraphemeAt(40, 40) != -1 {
		t.Errorf("Expected lone light pixel to be background, got grapheme %d", a.GraphemeAt(40, 40))
	}
}

func TestConnectivity(t *testing.T) {
	// two single pixels touching only diagonally
	img := page(10, 10, black)
	img.SetRGBA(4, 4, black)
	img.SetRGBA(5, 5, black)

	cases := []struct {
		name      string
		diagonal  bool
		graphemes int
	}{
		{"orthogonal", false, 2},
		{"diagonal", true, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			analyser := NewAnalyser()
			analyser.Diagonal = c.diagonal
			a, err := analyser.Analyse(img)
			if err != nil {
				t.Fatalf("Analyse failed: %v", err)
			}
			if len(a.Graphemes) != c.graphemes {
				t.Errorf("Expected %d graphemes, got %d", c.graphemes, len(a.Graphemes))
			}
		})
	}
}

func TestMeanValue(t *testing.T) {
	img := page(10, 10, black)
	img.SetRGBA(2, 2, color.RGBA{30, 30, 30, 255})
	img.SetRGBA(3, 2, color.RGBA{90, 90, 90, 255})

	a, err := NewAnalyser().Analyse(img)
	if err != nil {
		t.Fatalf("Analyse failed: %v", err)
	}
	if len(a.Graphemes) != 1 {
		t.Fatalf("Expected 1 grapheme, got %d", len(a.Graphemes))
	}
	if v := a.Graphemes[0].MeanValue(); v != 60 {
		t.Errorf("Expected mean value 60, got %d", v)
	}
}
