// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// cleanpage removes noise from a scanned page image, keeping the
// text. It is useful for checking thresholds before cleaning a whole
// book with cleanbook or the cleaning pipeline.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"

	"github.com/AaronRecord/document-cleaner/despeck"
	"github.com/AaronRecord/document-cleaner/imgio"
)

const usage = `Usage: cleanpage [-v] [-highlight] [opts] inimg outimg

Cleans the scanned page image at inimg, writing the cleaned page to
outimg. Small, light, isolated and margin-touching blobs of ink are
removed, and the page background is made uniform.

With -highlight the removed blobs are painted magenta and the
background light blue instead, which makes it easy to see what a set
of thresholds would do to a page.
`

// null writer to enable non-verbose logging to be discarded
type NullWriter bool

func (w NullWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func main() {
	verbose := flag.Bool("v", false, "verbose")
	highlight := flag.Bool("highlight", false, "highlight removed blobs and background rather than wiping them")
	offwhite := flag.Int("offwhite", despeck.DefaultOffWhiteThreshold, "background colour threshold; any pixel at least this light is always background")
	lightness := flag.Int("lightness", despeck.DefaultLightnessThreshold, "lightness threshold for pixels with no dark pixels nearby to count as background")
	lightnessdist := flag.Int("lightnessdist", despeck.DefaultLightnessDistance, "distance in pixels to look for dark neighbours when applying -lightness")
	diagonal := flag.Bool("diagonal", false, "consider diagonally touching pixels part of the same blob")
	size := flag.Int("size", despeck.DefaultSpeckSizeThreshold, "size in pixels at or below which a blob is removed")
	specklight := flag.Int("specklight", despeck.DefaultSpeckLightnessThreshold, "mean lightness above which a blob is removed; 255 disables")
	marginx := flag.Int("marginx", despeck.DefaultPageMargin, "width of the page edge bands; any blob touching them is removed")
	marginy := flag.Int("marginy", despeck.DefaultPageMargin, "height of the page edge bands; any blob touching them is removed")
	isolationsize := flag.Int("isolationsize", despeck.DefaultIsolationSizeThreshold, "size in pixels at which a blob is big enough to be kept however isolated it is")
	isolationdist := flag.Int("isolationdist", despeck.DefaultIsolationDistanceThreshold, "distance within which a small blob must align with a big one to be kept")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}

	var verboselog *log.Logger
	if *verbose {
		verboselog = log.New(os.Stdout, "", 0)
	} else {
		var n NullWriter
		verboselog = log.New(n, "", 0)
	}

	analyser := despeck.NewAnalyser()
	analyser.OffWhiteThreshold = uint8(*offwhite)
	analyser.LightnessThreshold = uint8(*lightness)
	analyser.LightnessDistance = *lightnessdist
	analyser.Diagonal = *diagonal

	c := despeck.NewCleaner()
	c.SpeckSizeThreshold = *size
	c.SpeckLightnessThreshold = uint8(*specklight)
	c.PageMarginX = *marginx
	c.PageMarginY = *marginy
	c.IsolationSizeThreshold = *isolationsize
	c.IsolationDistanceThreshold = *isolationdist
	if *highlight {
		c.SpeckFill = color.RGBA{255, 0, 255, 255}
		c.BackgroundFill = color.RGBA{220, 235, 255, 255}
	}

	inimg := flag.Arg(0)
	outimg := flag.Arg(1)

	verboselog.Println("Reading", inimg)
	img, err := imgio.Decode(inimg)
	if err != nil {
		log.Fatalf("Failed to read image %s: %v\n", inimg, err)
	}

	verboselog.Println("Analysing page")
	analysed, err := analyser.Analyse(img)
	if err != nil {
		log.Fatalf("Failed to analyse image %s: %v\n", inimg, err)
	}
	verboselog.Println("Found", len(analysed.Graphemes), "blobs of ink")

	decisions := c.Decisions(analysed, nil)
	removed := 0
	for _, keep := range decisions {
		if !keep {
			removed++
		}
	}
	verboselog.Println("Removing", removed, "blobs as noise")

	verboselog.Println("Writing", outimg)
	err = imgio.Encode(outimg, c.Render(analysed, decisions))
	if err != nil {
		log.Fatalf("Failed to write image %s: %v\n", outimg, err)
	}
}
