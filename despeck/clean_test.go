// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package despeck

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

var (
	magenta = color.RGBA{255, 0, 255, 255}
	blue    = color.RGBA{0, 0, 255, 255}
)

// testCleaner returns a Cleaner which only removes graphemes when a
// test enables one of the rules, with fill colours that make it easy
// to tell a removed grapheme from the background.
func testCleaner() Cleaner {
	c := NewCleaner()
	c.SpeckSizeThreshold = 0
	c.PageMarginX = 0
	c.PageMarginY = 0
	c.IsolationSizeThreshold = 0
	c.SpeckFill = magenta
	c.BackgroundFill = blue
	return c
}

func analyse(t *testing.T, img image.Image) *Analysed {
	t.Helper()
	a, err := NewAnalyser().Analyse(img)
	if err != nil {
		t.Fatalf("Analyse failed: %v", err)
	}
	return a
}

func TestCleanBlankPage(t *testing.T) {
	c := testCleaner()
	cleaned := c.Clean(analyse(t, page(20, 10, black)), nil)

	b := cleaned.Bounds()
	if b.Dx() != 20 || b.Dy() != 10 {
		t.Fatalf("Expected a 20x10 cleaned image, got %dx%d", b.Dx(), b.Dy())
	}
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			if cleaned.RGBAAt(x, y) != blue {
				t.Fatalf("Expected pixel (%d, %d) to be the background fill, got %v", x, y, cleaned.RGBAAt(x, y))
			}
		}
	}
}

func TestSpeckSize(t *testing.T) {
	// 5 pixel cluster in the middle of the page
	img := page(100, 100, black, image.Rect(50, 50, 55, 51))
	a := analyse(t, img)

	cases := []struct {
		threshold int
		keep      bool
	}{
		{0, true},
		{4, true},
		{5, false},
		{15, false},
	}
	for _, tc := range cases {
		c := testCleaner()
		c.SpeckSizeThreshold = tc.threshold
		keep := c.Decisions(a, nil)
		if len(keep) != 1 {
			t.Fatalf("Expected 1 decision, got %d", len(keep))
		}
		if keep[0] != tc.keep {
			t.Errorf("Threshold %d: expected keep=%v, got %v", tc.threshold, tc.keep, keep[0])
		}
	}
}

func TestPageMargins(t *testing.T) {
	// 5 pixel cluster at (10, 10), well inside a 50 pixel margin
	img := page(200, 200, black, image.Rect(10, 10, 15, 11))
	a := analyse(t, img)

	c := testCleaner()
	c.PageMarginX = 50
	c.PageMarginY = 50
	cleaned := c.Clean(a, nil)
	for _, p := range a.Graphemes[0].Pixels {
		if cleaned.RGBAAt(p.X, p.Y) != magenta {
			t.Fatalf("Expected marginal cluster pixel (%d, %d) to be the speck fill, got %v", p.X, p.Y, cleaned.RGBAAt(p.X, p.Y))
		}
	}

	// the same cluster with no margins configured survives
	c.PageMarginX = 0
	c.PageMarginY = 0
	if keep := c.Decisions(a, nil); !keep[0] {
		t.Errorf("Expected cluster to be kept with no margins configured")
	}
}

func TestSpeckLightness(t *testing.T) {
	grey := color.RGBA{90, 90, 90, 255}
	img := page(100, 100, grey, image.Rect(40, 40, 50, 50))
	a := analyse(t, img)

	c := testCleaner()
	if keep := c.Decisions(a, nil); !keep[0] {
		t.Errorf("Expected grey cluster to be kept with the lightness rule disabled")
	}
	c.SpeckLightnessThreshold = 80
	if keep := c.Decisions(a, nil); keep[0] {
		t.Errorf("Expected grey cluster to be removed with a lightness threshold of 80")
	}
}

func TestIsolation(t *testing.T) {
	big := image.Rect(60, 60, 70, 70)  // 100 pixels
	near := image.Rect(30, 30, 34, 34) // 16 pixels, box edges 30px from big's
	far := image.Rect(140, 140, 144, 144)

	cases := []struct {
		name     string
		clusters []image.Rectangle
		keep     []bool
	}{
		{"anchored", []image.Rectangle{near, big}, []bool{true, true}},
		{"too far", []image.Rectangle{big, far}, []bool{true, false}},
		{"no anchor", []image.Rectangle{near, far}, []bool{false, false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := analyse(t, page(200, 200, black, tc.clusters...))
			if len(a.Graphemes) != len(tc.keep) {
				t.Fatalf("Expected %d graphemes, got %d", len(tc.keep), len(a.Graphemes))
			}
			c := testCleaner()
			c.IsolationSizeThreshold = 80
			c.IsolationDistanceThreshold = 50
			keep := c.Decisions(a, nil)
			for i := range keep {
				if keep[i] != tc.keep[i] {
					t.Errorf("Grapheme %d: expected keep=%v, got %v", i, tc.keep[i], keep[i])
				}
			}
		})
	}
}

// TestAnchorsNeverIsolated checks that a grapheme at or above the
// isolation size threshold is never removed by the isolation rule,
// however far it is from everything else.
func TestAnchorsNeverIsolated(t *testing.T) {
	img := page(400, 400, black,
		image.Rect(20, 20, 30, 30),
		image.Rect(350, 350, 360, 360))
	a := analyse(t, img)

	c := testCleaner()
	c.IsolationSizeThreshold = 100 // exactly the cluster size
	c.IsolationDistanceThreshold = 50
	for i, keep := range c.Decisions(a, nil) {
		if !keep {
			t.Errorf("Expected grapheme %d to be kept, as it meets the anchor size", i)
		}
	}
}

// TestIsolationWrapAround checks that the outward search wraps past
// the ends of the grapheme list: the first grapheme in scan order
// can be anchored by the last.
func TestIsolationWrapAround(t *testing.T) {
	img := page(200, 100, black,
		image.Rect(0, 0, 3, 2),     // 6 pixels, first in scan order
		image.Rect(120, 0, 123, 2), // 6 pixels, far from everything
		image.Rect(0, 10, 10, 20))  // 100 pixels, last in scan order
	a := analyse(t, img)
	if len(a.Graphemes) != 3 {
		t.Fatalf("Expected 3 graphemes, got %d", len(a.Graphemes))
	}

	c := testCleaner()
	c.IsolationSizeThreshold = 80
	c.IsolationDistanceThreshold = 50
	keep := c.Decisions(a, nil)
	want := []bool{true, false, true}
	for i := range want {
		if keep[i] != want[i] {
			t.Errorf("Grapheme %d: expected keep=%v, got %v", i, want[i], keep[i])
		}
	}
}

// TestLoneSpeck checks the isolation rule on a single element
// grapheme list, which has no peers to search.
func TestLoneSpeck(t *testing.T) {
	a := analyse(t, page(100, 100, black, image.Rect(50, 50, 52, 52)))
	c := testCleaner()
	c.IsolationSizeThreshold = 80
	if keep := c.Decisions(a, nil); keep[0] {
		t.Errorf("Expected a lone speck below the anchor size to be removed")
	}
}

func TestOverrides(t *testing.T) {
	img := page(200, 200, black,
		image.Rect(60, 60, 70, 70), // content: kept by every rule
		image.Rect(100, 100, 102, 102)) // speck: removed by the size rule
	a := analyse(t, img)

	c := testCleaner()
	c.SpeckSizeThreshold = 15
	c.IsolationSizeThreshold = 80
	c.IsolationDistanceThreshold = 50

	cases := []struct {
		name      string
		overrides Overrides
		keep      []bool
	}{
		{"none", nil, []bool{true, false}},
		{"auto", Overrides{0: Auto, 1: Auto}, []bool{true, false}},
		{"force keep", Overrides{1: ForceKeep}, []bool{true, true}},
		{"force remove", Overrides{0: ForceRemove}, []bool{false, false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keep := c.Decisions(a, tc.overrides)
			for i := range tc.keep {
				if keep[i] != tc.keep[i] {
					t.Errorf("Grapheme %d: expected keep=%v, got %v", i, tc.keep[i], keep[i])
				}
			}
		})
	}
}

// TestPixelConservation checks that a kept grapheme is rendered with
// its original pixel colours exactly.
func TestPixelConservation(t *testing.T) {
	img := page(200, 200, black, image.Rect(60, 60, 70, 70))
	// vary some colours within the cluster
	img.SetRGBA(62, 62, color.RGBA{10, 20, 30, 255})
	img.SetRGBA(65, 68, color.RGBA{80, 70, 60, 255})
	a := analyse(t, img)

	cleaned := testCleaner().Clean(a, nil)
	for _, g := range a.Graphemes {
		for _, p := range g.Pixels {
			if cleaned.RGBAAt(p.X, p.Y) != img.RGBAAt(p.X, p.Y) {
				t.Fatalf("Pixel (%d, %d) changed from %v to %v", p.X, p.Y, img.RGBAAt(p.X, p.Y), cleaned.RGBAAt(p.X, p.Y))
			}
		}
	}
}

// TestCleanIdempotent checks that rendering the same analysis twice
// produces byte identical output.
func TestCleanIdempotent(t *testing.T) {
	img := page(200, 200, black,
		image.Rect(60, 60, 70, 70),
		image.Rect(100, 100, 102, 102),
		image.Rect(10, 10, 12, 12))
	a := analyse(t, img)

	c := testCleaner()
	c.SpeckSizeThreshold = 15
	first := c.Clean(a, nil)
	second := c.Clean(a, nil)
	if !bytes.Equal(first.Pix, second.Pix) {
		t.Errorf("Cleaning the same analysis twice produced different images")
	}
}
