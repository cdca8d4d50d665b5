// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/AaronRecord/document-cleaner/despeck"
	"github.com/AaronRecord/document-cleaner/imgio"
)

// preview fill colours; exported pages are cleaned with plain white
var (
	speckFill      = color.RGBA{255, 0, 255, 255}
	backgroundFill = color.RGBA{220, 235, 255, 255}
)

// tappableImage is an image widget that reports taps in image pixel
// coordinates, so blobs on the page can be tapped to override the
// cleaning decision for them.
type tappableImage struct {
	widget.BaseWidget
	img    *canvas.Image
	onTap  func(x, y int)
	bounds image.Rectangle
}

func newTappableImage(onTap func(x, y int)) *tappableImage {
	t := &tappableImage{onTap: onTap}
	t.img = canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	t.img.FillMode = canvas.ImageFillContain
	t.ExtendBaseWidget(t)
	return t
}

func (t *tappableImage) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(t.img)
}

func (t *tappableImage) SetImage(img image.Image) {
	t.bounds = img.Bounds()
	t.img.Image = img
	t.img.Refresh()
}

// Tapped maps the tap position back to image pixel coordinates,
// undoing the scaling and centering of ImageFillContain
func (t *tappableImage) Tapped(ev *fyne.PointEvent) {
	if t.onTap == nil || t.bounds.Dx() == 0 || t.bounds.Dy() == 0 {
		return
	}
	size := t.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}
	scale := float32(t.bounds.Dx()) / size.Width
	if s := float32(t.bounds.Dy()) / size.Height; s > scale {
		scale = s
	}
	ox := (size.Width - float32(t.bounds.Dx())/scale) / 2
	oy := (size.Height - float32(t.bounds.Dy())/scale) / 2
	x := int((ev.Position.X - ox) * scale)
	y := int((ev.Position.Y - oy) * scale)
	if x < 0 || y < 0 || x >= t.bounds.Dx() || y >= t.bounds.Dy() {
		return
	}
	t.onTap(x, y)
}

type gui struct {
	win      fyne.Window
	logger   *log.Logger
	analyser despeck.Analyser
	cleaner  despeck.Cleaner

	pages     []string
	current   int
	analysed  *despeck.Analysed
	overrides map[string]despeck.Overrides

	preview *tappableImage
	status  *widget.Label
}

// startGui starts the gui process
func startGui(logger *log.Logger, dir string) error {
	myApp := app.New()
	myWindow := myApp.NewWindow("Document Cleaner")

	c := despeck.NewCleaner()
	c.SpeckFill = speckFill
	c.BackgroundFill = backgroundFill

	g := &gui{
		win:       myWindow,
		logger:    logger,
		analyser:  despeck.NewAnalyser(),
		cleaner:   c,
		current:   -1,
		overrides: make(map[string]despeck.Overrides),
		status:    widget.NewLabel("Open a folder of page images to begin"),
	}
	g.preview = newTappableImage(g.tapped)

	openbtn := widget.NewButtonWithIcon("Open folder", theme.FolderOpenIcon(), func() {
		dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
			if err == nil && uri != nil {
				g.loadDir(uri.Path())
			}
		}, myWindow)
	})
	prevbtn := widget.NewButtonWithIcon("", theme.NavigateBackIcon(), func() {
		if g.current > 0 {
			g.loadPage(g.current - 1)
		}
	})
	nextbtn := widget.NewButtonWithIcon("", theme.NavigateNextIcon(), func() {
		if g.current >= 0 && g.current < len(g.pages)-1 {
			g.loadPage(g.current + 1)
		}
	})
	exportbtn := widget.NewButtonWithIcon("Clean all pages", theme.DocumentSaveIcon(), func() {
		dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
			if err == nil && uri != nil {
				g.exportAll(uri.Path())
			}
		}, myWindow)
	})

	controls := container.NewVBox(
		g.analyserSlider("Background colour threshold", 0, 255, float64(g.analyser.OffWhiteThreshold), func(v float64) {
			g.analyser.OffWhiteThreshold = uint8(v)
		}),
		g.analyserSlider("Isolated lightness threshold", 0, 255, float64(g.analyser.LightnessThreshold), func(v float64) {
			g.analyser.LightnessThreshold = uint8(v)
		}),
		g.cleanerSlider("Speck size", 0, 200, float64(g.cleaner.SpeckSizeThreshold), func(v float64) {
			g.cleaner.SpeckSizeThreshold = int(v)
		}),
		g.cleanerSlider("Speck lightness", 0, 255, float64(g.cleaner.SpeckLightnessThreshold), func(v float64) {
			g.cleaner.SpeckLightnessThreshold = uint8(v)
		}),
		g.cleanerSlider("Page margin", 0, 300, float64(g.cleaner.PageMarginX), func(v float64) {
			g.cleaner.PageMarginX = int(v)
			g.cleaner.PageMarginY = int(v)
		}),
		g.cleanerSlider("Isolation distance", 0, 300, float64(g.cleaner.IsolationDistanceThreshold), func(v float64) {
			g.cleaner.IsolationDistanceThreshold = int(v)
		}),
		g.cleanerSlider("Isolation size", 0, 500, float64(g.cleaner.IsolationSizeThreshold), func(v float64) {
			g.cleaner.IsolationSizeThreshold = int(v)
		}),
		widget.NewLabel("Tap a blob to force keeping or removing it"),
		exportbtn,
	)

	top := container.NewHBox(openbtn, prevbtn, nextbtn, g.status)
	content := container.NewBorder(top, nil, controls, nil, g.preview)

	myWindow.Resize(fyne.NewSize(1024, 768))
	myWindow.SetContent(content)

	if dir != "" {
		g.loadDir(dir)
	}

	myWindow.Show()
	myApp.Run()

	return nil
}

// analyserSlider builds a labelled slider for a setting that needs
// the page to be re-analysed, which is slow, so it only takes effect
// once the slider is released
func (g *gui) analyserSlider(name string, min, max, val float64, set func(float64)) fyne.CanvasObject {
	s := widget.NewSlider(min, max)
	s.SetValue(val)
	s.OnChangeEnded = func(v float64) {
		set(v)
		if g.current >= 0 {
			g.loadPage(g.current)
		}
	}
	return container.NewVBox(widget.NewLabel(name), s)
}

// cleanerSlider builds a labelled slider for a setting that only
// changes cleaning decisions, so the preview can follow the slider
// as it is dragged
func (g *gui) cleanerSlider(name string, min, max, val float64, set func(float64)) fyne.CanvasObject {
	s := widget.NewSlider(min, max)
	s.SetValue(val)
	s.OnChanged = func(v float64) {
		set(v)
		g.refresh()
	}
	return container.NewVBox(widget.NewLabel(name), s)
}

func (g *gui) loadDir(dir string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		dialog.ShowError(err, g.win)
		return
	}
	var pages []string
	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") || !imgio.Supported(f.Name()) {
			continue
		}
		pages = append(pages, filepath.Join(dir, f.Name()))
	}
	sort.Strings(pages)
	if len(pages) == 0 {
		dialog.ShowError(fmt.Errorf("No page images found in %s", dir), g.win)
		return
	}
	g.pages = pages
	g.loadPage(0)
}

func (g *gui) loadPage(i int) {
	path := g.pages[i]
	g.logger.Println("Loading", path)
	img, err := imgio.Decode(path)
	if err != nil {
		dialog.ShowError(err, g.win)
		return
	}
	analysed, err := g.analyser.Analyse(img)
	if err != nil {
		dialog.ShowError(err, g.win)
		return
	}
	g.current = i
	g.analysed = analysed
	g.refresh()
}

// refresh redraws the preview of the current page with the current
// thresholds and overrides
func (g *gui) refresh() {
	if g.analysed == nil {
		return
	}
	overrides := g.overrides[g.pages[g.current]]
	decisions := g.cleaner.Decisions(g.analysed, overrides)
	removed := 0
	for _, keep := range decisions {
		if !keep {
			removed++
		}
	}
	g.preview.SetImage(g.cleaner.Render(g.analysed, decisions))
	g.status.SetText(fmt.Sprintf("Page %d/%d: %d blobs, %d removed",
		g.current+1, len(g.pages), len(g.analysed.Graphemes), removed))
}

// tapped cycles the override for the blob at the tapped pixel
// between automatic, force remove and force keep
func (g *gui) tapped(x, y int) {
	if g.analysed == nil {
		return
	}
	gi := g.analysed.GraphemeAt(x, y)
	if gi < 0 {
		return
	}
	path := g.pages[g.current]
	if g.overrides[path] == nil {
		g.overrides[path] = make(despeck.Overrides)
	}
	switch g.overrides[path][gi] {
	case despeck.Auto:
		g.overrides[path][gi] = despeck.ForceRemove
	case despeck.ForceRemove:
		g.overrides[path][gi] = despeck.ForceKeep
	default:
		g.overrides[path][gi] = despeck.Auto
	}
	g.logger.Println("Override for blob", gi, "on", path, "set to", g.overrides[path][gi])
	g.refresh()
}

// exportAll cleans every page with the current thresholds and any
// overrides set, saving the results into outdir with plain white
// fills. It runs concurrently so the window stays responsive, and
// can be cancelled from the progress dialog.
func (g *gui) exportAll(outdir string) {
	if len(g.pages) == 0 {
		return
	}
	c := g.cleaner
	c.SpeckFill = color.RGBA{255, 255, 255, 255}
	c.BackgroundFill = color.RGBA{255, 255, 255, 255}

	ctx, cancel := context.WithCancel(context.Background())
	bar := widget.NewProgressBar()
	d := dialog.NewCustom("Cleaning pages", "Cancel", bar, g.win)
	d.SetOnClosed(cancel)
	d.Show()

	go func() {
		defer d.Hide()
		for i, path := range g.pages {
			select {
			case <-ctx.Done():
				g.logger.Println("Export cancelled")
				return
			default:
			}
			g.logger.Println("Cleaning", path)
			img, err := imgio.Decode(path)
			if err != nil {
				dialog.ShowError(err, g.win)
				return
			}
			analysed, err := g.analyser.Analyse(img)
			if err != nil {
				dialog.ShowError(err, g.win)
				return
			}
			outpath := filepath.Join(outdir, filepath.Base(path))
			err = imgio.Encode(outpath, c.Clean(analysed, g.overrides[path]))
			if err != nil {
				dialog.ShowError(err, g.win)
				return
			}
			bar.SetValue(float64(i+1) / float64(len(g.pages)))
		}
	}()
}
