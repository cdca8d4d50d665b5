// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// cleanbook cleans every page image of a book on the local machine,
// without using any queueing infrastructure. Pages are cleaned
// concurrently, and a graph and PDF of the cleaned book can be
// produced at the end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/AaronRecord/document-cleaner"
	"github.com/AaronRecord/document-cleaner/despeck"
	"github.com/AaronRecord/document-cleaner/imgio"
)

const usage = `Usage: cleanbook [-v] [-w workers] [opts] [-graph graph.png] [-pdf book.pdf] bookdir outdir

Cleans every page image in bookdir, writing the cleaned pages to
outdir with the same file names. A page which cannot be read or
cleaned is logged and skipped; the rest of the book is still cleaned.

With -graph a graph of the percentage of each page removed as noise
is saved, which is a quick way to spot pages that need different
thresholds. With -pdf the cleaned pages are assembled into a PDF.
`

// null writer to enable non-verbose logging to be discarded
type NullWriter bool

func (w NullWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func main() {
	verbose := flag.Bool("v", false, "verbose")
	workers := flag.Int("w", runtime.NumCPU(), "number of pages to clean concurrently")
	graphfn := flag.String("graph", "", "filename to save a graph of noise removal percentages to")
	pdffn := flag.String("pdf", "", "filename to save a PDF of the cleaned pages to")
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

	bookdir := flag.Arg(0)
	outdir := flag.Arg(1)

	err := os.MkdirAll(outdir, 0755)
	if err != nil {
		log.Fatalln("Failed to create directory", outdir, err)
	}

	files, err := os.ReadDir(bookdir)
	if err != nil {
		log.Fatalln("Failed to read directory", bookdir, err)
	}
	var pages []string
	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") || !imgio.Supported(f.Name()) {
			continue
		}
		pages = append(pages, f.Name())
	}
	if len(pages) == 0 {
		log.Fatalln("No page images found in", bookdir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats := make(map[string]*cleaner.PageStat)
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan string)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				select {
				case <-ctx.Done():
					continue
				default:
				}
				stat, err := cleanpage(filepath.Join(bookdir, name), filepath.Join(outdir, name), analyser, c, verboselog)
				if err != nil {
					log.Println("Skipping page:", err)
					continue
				}
				mu.Lock()
				stats[strings.TrimSuffix(name, filepath.Ext(name))] = stat
				mu.Unlock()
			}
		}()
	}

	for _, name := range pages {
		jobs <- name
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		log.Fatalln("Interrupted; cleaned", len(stats), "of", len(pages), "pages")
	}
	verboselog.Println("Cleaned", len(stats), "of", len(pages), "pages")

	if *graphfn != "" {
		verboselog.Println("Creating graph", *graphfn)
		f, err := os.Create(*graphfn)
		if err != nil {
			log.Fatalln("Failed to create file", *graphfn, err)
		}
		defer f.Close()
		err = cleaner.Graph(stats, filepath.Base(bookdir), f)
		if err != nil {
			log.Fatalln("Failed to create graph:", err)
		}
	}

	if *pdffn != "" {
		verboselog.Println("Creating PDF", *pdffn)
		var names []string
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)
		pdf := new(cleaner.Fpdf)
		err = pdf.Setup()
		if err != nil {
			log.Fatalln("Failed to set up PDF:", err)
		}
		for _, name := range names {
			err = pdf.AddPage(filepath.Join(outdir, stats[name].Path))
			if err != nil {
				log.Fatalln("Failed to add page to PDF:", err)
			}
		}
		err = pdf.Save(*pdffn)
		if err != nil {
			log.Fatalln("Failed to save PDF:", err)
		}
	}
}

// cleanpage cleans a single page, saving the cleaned image to
// outpath and returning the cleaning stats for it.
func cleanpage(path string, outpath string, analyser despeck.Analyser, c despeck.Cleaner, logger *log.Logger) (*cleaner.PageStat, error) {
	logger.Println("Cleaning", path)
	img, err := imgio.Decode(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read image %s: %v", path, err)
	}
	analysed, err := analyser.Analyse(img)
	if err != nil {
		return nil, fmt.Errorf("Failed to analyse image %s: %v", path, err)
	}
	decisions := c.Decisions(analysed, nil)
	err = imgio.Encode(outpath, c.Render(analysed, decisions))
	if err != nil {
		return nil, fmt.Errorf("Failed to write image %s: %v", outpath, err)
	}
	removed := 0
	for _, keep := range decisions {
		if !keep {
			removed++
		}
	}
	return &cleaner.PageStat{Path: filepath.Base(outpath), Graphemes: len(analysed.Graphemes), Removed: removed}, nil
}
