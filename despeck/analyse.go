// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// The despeck package segments a scanned page image into connected
// clusters of ink pixels ("graphemes"), and classifies each cluster
// as either genuine content or noise, so that specks, smudges and
// page haze can be removed before OCR or printing.
package despeck

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
)

// Default thresholds for Analyser, which work well for scans of
// printed pages at around 300dpi.
const (
	DefaultOffWhiteThreshold  = 240
	DefaultLightnessThreshold = 100
	DefaultLightnessDistance  = 1
)

// ErrEmptyImage is returned by Analyse for an image with no pixels.
var ErrEmptyImage = errors.New("image has zero width or height")

// Analyser holds the thresholds used to separate background from ink
// when segmenting an image.
type Analyser struct {
	// OffWhiteThreshold is the mean channel value at or above which
	// a pixel is always considered background.
	OffWhiteThreshold uint8
	// LightnessThreshold is a looser cutoff; a pixel at or above it
	// is considered background only if every pixel within
	// LightnessDistance of it is too. This stops the light
	// antialiased edges of dark strokes being eaten into.
	LightnessThreshold uint8
	LightnessDistance  int
	// Diagonal includes the four diagonal neighbours when deciding
	// whether ink pixels are connected.
	Diagonal bool
}

// NewAnalyser returns an Analyser with the default thresholds set.
func NewAnalyser() Analyser {
	return Analyser{
		OffWhiteThreshold:  DefaultOffWhiteThreshold,
		LightnessThreshold: DefaultLightnessThreshold,
		LightnessDistance:  DefaultLightnessDistance,
	}
}

// Pixel is a single ink pixel of a grapheme, with its original
// colour.
type Pixel struct {
	X, Y  int
	Color color.RGBA
}

// Grapheme is a maximal connected cluster of ink pixels; typically a
// glyph stroke, a ligature, or a noise blob. Pixels are in flood fill
// discovery order, which has no spatial meaning. The bounding box is
// tight: at least one pixel touches each of its four edges.
type Grapheme struct {
	Pixels                   []Pixel
	Top, Bottom, Left, Right int
}

// Size returns the number of pixels in the grapheme.
func (g *Grapheme) Size() int {
	return len(g.Pixels)
}

// MeanValue returns the mean channel value over every pixel in the
// grapheme.
func (g *Grapheme) MeanValue() uint8 {
	var total int
	for _, p := range g.Pixels {
		total += int(value(p.Color))
	}
	return uint8(total / len(g.Pixels))
}

func (g *Grapheme) draw(img *image.RGBA) {
	for _, p := range g.Pixels {
		img.SetRGBA(p.X, p.Y, p.Color)
	}
}

func (g *Grapheme) fill(img *image.RGBA, c color.RGBA) {
	for _, p := range g.Pixels {
		img.SetRGBA(p.X, p.Y, c)
	}
}

// Analysed is the result of segmenting an image. Every pixel of the
// source image is either background or a member of exactly one
// grapheme. Graphemes are numbered in raster scan order of their
// first discovered pixel, so nearby indices tend to be nearby on the
// page.
type Analysed struct {
	Graphemes []Grapheme
	index     []int32
	width     int
	height    int
}

// Width returns the width of the analysed image in pixels.
func (a *Analysed) Width() int {
	return a.width
}

// Height returns the height of the analysed image in pixels.
func (a *Analysed) Height() int {
	return a.height
}

// GraphemeAt returns the index into Graphemes of the grapheme
// containing the pixel at (x, y), or -1 if the pixel is background
// or out of bounds.
func (a *Analysed) GraphemeAt(x, y int) int {
	if x < 0 || y < 0 || x >= a.width || y >= a.height {
		return -1
	}
	return int(a.index[y*a.width+x])
}

var orthogonal = [4][2]int{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
var diagonal = [8][2]int{{1, 0}, {0, 1}, {-1, 0}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}

// Analyse segments an image into graphemes. First every pixel is
// classified as background or ink using the analyser thresholds,
// then the ink pixels are grouped into connected clusters.
func (s Analyser) Analyse(img image.Image) (*Analysed, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, ErrEmptyImage
	}
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	// The background mask doubles as the flood fill visited set.
	background := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := value(rgba.RGBAAt(x, y))
			offwhite := v >= s.OffWhiteThreshold
			lightAndDistant := v >= s.LightnessThreshold &&
				darkestWithin(rgba, x, y, s.LightnessDistance) >= s.LightnessThreshold
			if offwhite || lightAndDistant {
				background[y*w+x] = true
			}
		}
	}

	a := &Analysed{
		index:  make([]int32, w*h),
		width:  w,
		height: h,
	}
	for i := range a.index {
		a.index[i] = -1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if background[y*w+x] {
				continue
			}
			g := s.detect(x, y, rgba, background)
			gi := int32(len(a.Graphemes))
			for _, p := range g.Pixels {
				a.index[p.Y*w+p.X] = gi
			}
			a.Graphemes = append(a.Graphemes, g)
		}
	}

	return a, nil
}

// detect flood fills outwards from an ink pixel, accumulating every
// connected ink pixel into a new grapheme and growing its bounding
// box as it goes. An explicit stack is used rather than recursion,
// as a large smudge can easily cover more pixels than the call stack
// can take.
func (s Analyser) detect(x, y int, img *image.RGBA, visited []bool) Grapheme {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	neighbours := orthogonal[:]
	if s.Diagonal {
		neighbours = diagonal[:]
	}

	g := Grapheme{Top: y, Bottom: y, Left: x, Right: x}

	stack := [][2]int{{x, y}}
	visited[y*w+x] = true
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		px, py := p[0], p[1]
		g.Pixels = append(g.Pixels, Pixel{X: px, Y: py, Color: img.RGBAAt(px, py)})

		if px < g.Left {
			g.Left = px
		}
		if px > g.Right {
			g.Right = px
		}
		if py < g.Top {
			g.Top = py
		}
		if py > g.Bottom {
			g.Bottom = py
		}

		for _, n := range neighbours {
			nx, ny := px+n[0], py+n[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			if visited[ny*w+nx] {
				continue
			}
			visited[ny*w+nx] = true
			stack = append(stack, [2]int{nx, ny})
		}
	}

	return g
}

// darkestWithin returns the lowest mean channel value of any pixel
// within a square window of half-width distance around (x, y),
// clamped to the image edges.
func darkestWithin(img *image.RGBA, x, y, distance int) uint8 {
	b := img.Bounds()
	miny := y - distance
	if miny < b.Min.Y {
		miny = b.Min.Y
	}
	minx := x - distance
	if minx < b.Min.X {
		minx = b.Min.X
	}
	maxy := y + distance
	if maxy > b.Max.Y-1 {
		maxy = b.Max.Y - 1
	}
	maxx := x + distance
	if maxx > b.Max.X-1 {
		maxx = b.Max.X - 1
	}

	darkest := uint8(255)
	for yi := miny; yi <= maxy; yi++ {
		for xi := minx; xi <= maxx; xi++ {
			if v := value(img.RGBAAt(xi, yi)); v < darkest {
				darkest = v
			}
		}
	}
	return darkest
}

// value returns the mean of the red, green and blue channels of a
// pixel.
func value(c color.RGBA) uint8 {
	return uint8((int(c.R) + int(c.G) + int(c.B)) / 3)
}
