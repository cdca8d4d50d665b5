// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package imgio

import (
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"
)

// imgsequal checks whether two images are identical pixel for pixel.
func imgsequal(img1, img2 image.Image) bool {
	b := img1.Bounds()
	if !b.Eq(img2.Bounds()) {
		return false
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r0, g0, b0, a0 := img1.At(x, y).RGBA()
			r1, g1, b1, a1 := img2.At(x, y).RGBA()
			if r0 != r1 || g0 != g1 || b0 != b1 || a0 != a1 {
				return false
			}
		}
	}
	return true
}

func testpage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 30, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 30; x++ {
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	for x := 5; x < 12; x++ {
		img.SetRGBA(x, 10, color.RGBA{20, 20, 20, 255})
	}
	return img
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		ext      string
		lossless bool
	}{
		{"png", true},
		{"jpg", false},
		{"tiff", true},
		{"webp", true},
	}

	orig := testpage()
	for _, c := range cases {
		t.Run(c.ext, func(t *testing.T) {
			fn := filepath.Join(t.TempDir(), "page."+c.ext)
			err := Encode(fn, orig)
			if err != nil {
				t.Fatalf("Could not encode image: %v", err)
			}
			img, err := Decode(fn)
			if err != nil {
				t.Fatalf("Could not decode image: %v", err)
			}
			if !img.Bounds().Eq(orig.Bounds()) {
				t.Fatalf("Bounds changed from %v to %v", orig.Bounds(), img.Bounds())
			}
			if c.lossless && !imgsequal(orig, img) {
				t.Errorf("Image differs after a %s round trip", c.ext)
			}
		})
	}
}

func TestEncodeUnknownFormat(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "page.xyz")
	err := Encode(fn, testpage())
	if err == nil {
		t.Fatalf("Expected an error encoding an unknown format")
	}
	if !strings.Contains(err.Error(), "Unknown image format") {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestSupported(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"page.png", true},
		{"page.JPG", true},
		{"page.webp", true},
		{"page.tif", true},
		{"page.txt", false},
		{"page", false},
	}
	for _, c := range cases {
		if Supported(c.path) != c.ok {
			t.Errorf("Supported(%q): expected %v", c.path, c.ok)
		}
	}
}
