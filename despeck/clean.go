// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package despeck

import (
	"image"
	"image/color"
	"image/draw"
)

// Default thresholds for Cleaner. The speck lightness rule is
// disabled by default, as the size and isolation rules catch most
// noise on their own.
const (
	DefaultSpeckSizeThreshold         = 15
	DefaultSpeckLightnessThreshold    = 255
	DefaultPageMargin                 = 50
	DefaultIsolationDistanceThreshold = 50
	DefaultIsolationSizeThreshold     = 80
)

// Override is a reviewer's decision about a single grapheme, taking
// precedence over every cleaning rule.
type Override int

const (
	// Auto leaves the decision to the cleaning rules.
	Auto Override = iota
	// ForceKeep always draws the grapheme.
	ForceKeep
	// ForceRemove always fills the grapheme with the speck colour.
	ForceRemove
)

// Overrides maps grapheme indices to reviewer decisions. They are
// kept separately from the Analysed image so that re-analysing with
// different thresholds doesn't quietly throw annotations away.
type Overrides map[int]Override

// Cleaner holds the thresholds and colours used to decide which
// graphemes to remove and to render the cleaned image.
type Cleaner struct {
	// SpeckSizeThreshold is the pixel count at or below which a
	// grapheme is removed as too small to be content.
	SpeckSizeThreshold int
	// SpeckLightnessThreshold is the mean channel value above which
	// a grapheme is removed as too light to be content. 255 disables
	// the rule.
	SpeckLightnessThreshold uint8
	// PageMarginX and PageMarginY are the widths in pixels of the
	// bands at the page edges; any grapheme touching a band is
	// removed.
	PageMarginX, PageMarginY int
	// IsolationSizeThreshold is the pixel count at or above which a
	// grapheme is big enough to be kept regardless of isolation, and
	// to anchor smaller graphemes near it. Smaller graphemes are
	// removed unless anchored.
	IsolationSizeThreshold int
	// IsolationDistanceThreshold is how closely the bounding box
	// edges of a small grapheme and an anchor must align for the
	// small grapheme to count as anchored.
	IsolationDistanceThreshold int
	// SpeckFill and BackgroundFill are the colours painted over
	// removed graphemes and background pixels. They are separate so
	// that removed graphemes can be highlighted when checking
	// thresholds.
	SpeckFill      color.RGBA
	BackgroundFill color.RGBA
}

// NewCleaner returns a Cleaner with the default thresholds set and
// both fill colours white.
func NewCleaner() Cleaner {
	white := color.RGBA{255, 255, 255, 255}
	return Cleaner{
		SpeckSizeThreshold:         DefaultSpeckSizeThreshold,
		SpeckLightnessThreshold:    DefaultSpeckLightnessThreshold,
		PageMarginX:                DefaultPageMargin,
		PageMarginY:                DefaultPageMargin,
		IsolationDistanceThreshold: DefaultIsolationDistanceThreshold,
		IsolationSizeThreshold:     DefaultIsolationSizeThreshold,
		SpeckFill:                  white,
		BackgroundFill:             white,
	}
}

// Decisions returns whether each grapheme of an analysed image
// should be kept. Overrides may be nil.
func (c Cleaner) Decisions(a *Analysed, overrides Overrides) []bool {
	keep := make([]bool, len(a.Graphemes))
	for i := range a.Graphemes {
		keep[i] = c.keep(a, i, overrides)
	}
	return keep
}

func (c Cleaner) keep(a *Analysed, i int, overrides Overrides) bool {
	if o, ok := overrides[i]; ok && o != Auto {
		return o == ForceKeep
	}
	g := &a.Graphemes[i]
	if len(g.Pixels) <= c.SpeckSizeThreshold {
		return false
	}
	insideMargins := g.Top < c.PageMarginY || g.Bottom >= a.height-c.PageMarginY ||
		g.Left < c.PageMarginX || g.Right >= a.width-c.PageMarginX
	if insideMargins {
		return false
	}
	if g.MeanValue() > c.SpeckLightnessThreshold {
		return false
	}
	return !c.isolated(i, a.Graphemes)
}

// isolated reports whether a small grapheme is too far from any
// grapheme big enough to anchor it. Rather than scanning the whole
// list, the search moves outwards from the grapheme's own index
// alternately in each direction, wrapping around the ends of the
// list, and stops at the first anchor within distance. Grapheme
// indices follow raster scan order, so near indices are usually near
// on the page; when they aren't, a grapheme whose nearest anchor is
// far away in scan order can be misclassified.
func (c Cleaner) isolated(gi int, graphemes []Grapheme) bool {
	g := &graphemes[gi]
	if len(g.Pixels) >= c.IsolationSizeThreshold {
		return false
	}

	for i := 0; i < len(graphemes)-1; i++ {
		offset := 1 + i/2
		if i%2 == 1 {
			offset = -offset
		}
		index := gi + offset
		if index < 0 {
			index += len(graphemes)
		} else if index >= len(graphemes) {
			index -= len(graphemes)
		}

		other := &graphemes[index]
		// Two small specks can't save each other.
		if len(other.Pixels) < c.IsolationSizeThreshold {
			continue
		}

		near := (absdiff(g.Top, other.Top) < c.IsolationDistanceThreshold ||
			absdiff(g.Bottom, other.Bottom) < c.IsolationDistanceThreshold) &&
			(absdiff(g.Left, other.Left) < c.IsolationDistanceThreshold ||
				absdiff(g.Right, other.Right) < c.IsolationDistanceThreshold)
		if near {
			return false
		}
	}

	return true
}

// Clean renders the cleaned image: background and removed graphemes
// are painted with the fill colours, kept graphemes keep their
// original pixel colours exactly. The analysed image is not
// modified, so Clean can be rerun cheaply with different thresholds
// or overrides.
func (c Cleaner) Clean(a *Analysed, overrides Overrides) *image.RGBA {
	return c.Render(a, c.Decisions(a, overrides))
}

// Render renders the cleaned image from decisions already made, which
// saves redoing the decision work when the caller needs the decisions
// anyway, e.g. to count removals.
func (c Cleaner) Render(a *Analysed, decisions []bool) *image.RGBA {
	cleaned := image.NewRGBA(image.Rect(0, 0, a.width, a.height))
	draw.Draw(cleaned, cleaned.Bounds(), &image.Uniform{c.BackgroundFill}, image.Point{}, draw.Src)

	for i, keep := range decisions {
		g := &a.Graphemes[i]
		if keep {
			g.draw(cleaned)
		} else {
			g.fill(cleaned, c.SpeckFill)
		}
	}

	return cleaned
}

func absdiff(a, b int) int {
	if a >= b {
		return a - b
	}
	return b - a
}
