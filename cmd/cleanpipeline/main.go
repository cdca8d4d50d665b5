// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// cleanpipeline watches the book, page and report queues for work,
// so that the cleaning of books can be spread over any number of
// machines.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"regexp"
	"time"

	"github.com/AaronRecord/document-cleaner"
	"github.com/AaronRecord/document-cleaner/despeck"

	"github.com/AaronRecord/document-cleaner/internal/pipeline"
)

const usage = `Usage: cleanpipeline [-v] [-c conn] [-nb] [-np] [-nr] [opts]

Watches the book, page and report queues for work. When a message is
found this general process is followed:

- The message is hidden from the queue, and a 'heartbeat' is
  started which keeps it hidden (this will time out after 2 minutes
  if the program is terminated)
- The necessary files from bookname/ are downloaded
- The files are processed
- The resulting files are uploaded to bookname/
- The heartbeat is stopped
- The message is removed from the queue it was taken from, and
  the next step is queued for future processing

A book on the book queue is fanned out to the page queue, one message
per page, so pages can be cleaned by any number of machines. Once the
last page of a book has been cleaned the book is added to the report
queue, where the stats, graph and PDF of the cleaned book are built.
`

const PauseBetweenChecks = 3 * time.Minute

// null writer to enable non-verbose logging to be discarded
type NullWriter bool

func (w NullWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func main() {
	verbose := flag.Bool("v", false, "verbose")
	conntype := flag.String("c", "aws", "connection type ('aws' or 'local')")
	nobook := flag.Bool("nb", false, "disable book fan out")
	nopage := flag.Bool("np", false, "disable page cleaning")
	noreport := flag.Bool("nr", false, "disable report building")
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

	// pages are renamed to end _NNNN when uploaded, so this skips
	// any _clean files from an earlier partial run
	pagePattern := regexp.MustCompile(`_[0-9]{4}\.(png|jpg|jpeg|tif|tiff|webp)$`)
	statPattern := regexp.MustCompile(`\.stat$`)

	var conn pipeline.Pipeliner
	switch *conntype {
	case "aws":
		conn = &cleaner.AwsConn{Logger: verboselog}
	case "local":
		conn = &cleaner.LocalConn{Logger: verboselog}
	default:
		log.Fatalln("Unknown connection type")
	}

	verboselog.Println("Setting up cloud connection")
	err := conn.Init()
	if err != nil {
		log.Fatalln("Error setting up cloud connection:", err)
	}
	verboselog.Println("Finished setting up cloud connection")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var checkBookQueue <-chan time.Time
	var checkPageQueue <-chan time.Time
	var checkReportQueue <-chan time.Time
	if !*nobook {
		checkBookQueue = time.After(0)
	}
	if !*nopage {
		checkPageQueue = time.After(0)
	}
	if !*noreport {
		checkReportQueue = time.After(0)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Interrupt received, shutting down")
			return
		case <-checkBookQueue:
			msg, err := conn.CheckQueue(conn.BookQueueId(), pipeline.HeartbeatSeconds*2)
			checkBookQueue = time.After(PauseBetweenChecks)
			if err != nil {
				log.Println("Error checking book queue", err)
				continue
			}
			if msg.Handle == "" {
				verboselog.Println("No message received on book queue, sleeping")
				continue
			}
			verboselog.Println("Message received on book queue, processing", msg.Body)
			err = pipeline.ProcessBook(ctx, msg, conn, pipeline.Verify(), pagePattern, conn.BookQueueId(), conn.PageQueueId())
			if err != nil {
				log.Println("Error during book fan out", err)
			}
		case <-checkPageQueue:
			msg, err := conn.CheckQueue(conn.PageQueueId(), pipeline.HeartbeatSeconds*2)
			checkPageQueue = time.After(PauseBetweenChecks)
			if err != nil {
				log.Println("Error checking page queue", err)
				continue
			}
			if msg.Handle == "" {
				verboselog.Println("No message received on page queue, sleeping")
				continue
			}
			// Have the page queue checked immediately after completion, as
			// chances are high that there will be more pages that should be
			// done without delay
			checkPageQueue = time.After(0)
			verboselog.Println("Message received on page queue, processing", msg.Body)
			err = pipeline.CleanPage(ctx, msg, conn, pipeline.Despeckle(analyser, c), conn.PageQueueId(), conn.ReportQueueId())
			if err != nil {
				log.Println("Error during page clean", err)
			}
		case <-checkReportQueue:
			msg, err := conn.CheckQueue(conn.ReportQueueId(), pipeline.HeartbeatSeconds*2)
			checkReportQueue = time.After(PauseBetweenChecks)
			if err != nil {
				log.Println("Error checking report queue", err)
				continue
			}
			if msg.Handle == "" {
				verboselog.Println("No message received on report queue, sleeping")
				continue
			}
			verboselog.Println("Message received on report queue, processing", msg.Body)
			err = pipeline.ProcessBook(ctx, msg, conn, pipeline.Report(conn), statPattern, conn.ReportQueueId(), "")
			if err != nil {
				log.Println("Error during report building", err)
			}
		}
	}
}
