// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package cleaner

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const maxticks = 40
const yticknum = 40

// Removal percentages above these deserve attention; a page losing
// half of its graphemes to the cleaner has probably lost content.
const lightCutoff = 10
const mediumCutoff = 25
const heavyCutoff = 50

// PageStat records how much of a page the cleaner removed.
type PageStat struct {
	Path      string
	Graphemes int
	Removed   int
}

// Percent returns the percentage of the page's graphemes that were
// removed as noise.
func (s *PageStat) Percent() float64 {
	if s.Graphemes == 0 {
		return 0
	}
	return float64(s.Removed) / float64(s.Graphemes) * 100
}

type graphStat struct {
	pgnum, percent float64
}

// createLine creates a horizontal line with a particular y value for
// a graph
func createLine(xvalues []float64, y float64, c drawing.Color) chart.ContinuousSeries {
	var yvalues []float64
	for range xvalues {
		yvalues = append(yvalues, y)
	}
	return chart.ContinuousSeries{
		XValues: xvalues,
		YValues: yvalues,
		Style: chart.Style{
			StrokeColor: c,
		},
	}
}

// Graph creates a graph of the percentage of each page removed as
// noise, which is a quick way to find pages that were scanned badly
// or cleaned too aggressively.
func Graph(stats map[string]*PageStat, bookname string, w io.Writer) error {
	return GraphOpts(stats, bookname, "Page number", true, w)
}

// GraphOpts creates a graph of noise removal percentages
func GraphOpts(stats map[string]*PageStat, bookname string, xaxis string, guidelines bool, w io.Writer) error {
	if len(stats) < 2 {
		return errors.New("Not enough pages to graph")
	}

	// Organise stats to sort them by page
	var graphstats []graphStat
	for _, stat := range stats {
		name := filepath.Base(stat.Path)
		var numend int
		numend = strings.Index(name, "_")
		if numend == -1 {
			numend = strings.Index(name, ".")
		}
		pgnum, err := strconv.ParseFloat(name[0:numend], 64)
		if err != nil {
			continue
		}
		graphstats = append(graphstats, graphStat{pgnum, stat.Percent()})
	}

	// If we failed to get any page numbers, just fake the lot
	if len(graphstats) == 0 {
		i := float64(1)
		for _, stat := range stats {
			graphstats = append(graphstats, graphStat{i, stat.Percent()})
			i++
		}
	}

	sort.Slice(graphstats, func(i, j int) bool { return graphstats[i].pgnum < graphstats[j].pgnum })

	// Create main xvalues, yvalues ticks
	var xvalues, yvalues []float64
	var ticks []chart.Tick
	var yticks []chart.Tick
	tickevery := len(graphstats) / maxticks
	if tickevery < 1 {
		tickevery = 1
	}
	for i, s := range graphstats {
		xvalues = append(xvalues, s.pgnum)
		yvalues = append(yvalues, s.percent)
		if i%tickevery == 0 {
			ticks = append(ticks, chart.Tick{Value: s.pgnum, Label: fmt.Sprintf("%.0f", s.pgnum)})
		}
	}
	// Make last tick the final page
	final := graphstats[len(graphstats)-1]
	ticks[len(ticks)-1] = chart.Tick{Value: final.pgnum, Label: fmt.Sprintf("%.0f", final.pgnum)}
	for i := 0; i <= yticknum; i++ {
		n := float64(i*100) / yticknum
		yticks = append(yticks, chart.Tick{Value: n, Label: fmt.Sprintf("%.1f", n)})
	}

	mainSeries := chart.ContinuousSeries{
		Style: chart.Style{
			StrokeColor: chart.ColorBlue,
			FillColor:   chart.ColorAlternateBlue,
		},
		XValues: xvalues,
		YValues: yvalues,
	}

	// Create lines
	lightCutoffSeries := createLine(xvalues, lightCutoff, chart.ColorAlternateGreen)
	mediumCutoffSeries := createLine(xvalues, mediumCutoff, chart.ColorOrange)
	heavyCutoffSeries := createLine(xvalues, heavyCutoff, chart.ColorRed)

	// Create lines marking the top and bottom 10% of pages by
	// removal percentage
	sort.Slice(graphstats, func(i, j int) bool { return graphstats[i].percent < graphstats[j].percent })
	low := graphstats[int(len(graphstats)/10)].percent
	high := graphstats[int((len(graphstats)/10)*9)].percent
	yvalues = []float64{}
	for range graphstats {
		yvalues = append(yvalues, low)
	}
	minSeries := &chart.ContinuousSeries{
		Style: chart.Style{
			StrokeColor:     chart.ColorAlternateGray,
			StrokeDashArray: []float64{5.0, 5.0},
		},
		XValues: xvalues,
		YValues: yvalues,
	}
	yvalues = []float64{}
	for range graphstats {
		yvalues = append(yvalues, high)
	}
	maxSeries := &chart.ContinuousSeries{
		Style: chart.Style{
			StrokeColor:     chart.ColorAlternateGray,
			StrokeDashArray: []float64{5.0, 5.0},
		},
		XValues: xvalues,
		YValues: yvalues,
	}

	// Create annotations
	var annotations []chart.Value2
	for _, s := range graphstats {
		if !guidelines || (s.percent > high || s.percent < low) {
			annotations = append(annotations, chart.Value2{Label: fmt.Sprintf("%.0f", s.pgnum), XValue: s.pgnum, YValue: s.percent})
		}
	}
	annotations = append(annotations, chart.Value2{Label: fmt.Sprintf("%.0f", low), XValue: xvalues[len(xvalues)-1], YValue: low})
	annotations = append(annotations, chart.Value2{Label: fmt.Sprintf("%.0f", high), XValue: xvalues[len(xvalues)-1], YValue: high})

	graph := chart.Chart{
		Title:  bookname,
		Width:  3840,
		Height: 2160,
		XAxis: chart.XAxis{
			Name: xaxis,
			Range: &chart.ContinuousRange{
				Min: 0.0,
			},
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name: "Noise removed (%)",
			Range: &chart.ContinuousRange{
				Min: 0.0,
				Max: 100.0,
			},
			Ticks: yticks,
		},
		Series: []chart.Series{
			mainSeries,
			chart.AnnotationSeries{
				Annotations: annotations,
			},
		},
	}
	if guidelines {
		for _, s := range []chart.Series{
			minSeries,
			maxSeries,
			lightCutoffSeries,
			mediumCutoffSeries,
			heavyCutoffSeries,
		} {
			graph.Series = append(graph.Series, s)
		}
	}
	return graph.Render(chart.PNG, w)
}
