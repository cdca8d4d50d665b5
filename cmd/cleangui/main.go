// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// cleangui is a graphical tool for cleaning scanned page images.
// Thresholds can be adjusted with immediate feedback on a preview of
// the page, individual blobs of ink can be tapped to force keeping
// or removing them, and a whole folder of pages can be cleaned with
// the chosen settings.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

const usage = `Usage: cleangui [-v] [dir]

Starts the graphical page cleaner. If dir is given the pages in it
are loaded at startup.
`

// null writer to enable non-verbose logging to be discarded
type NullWriter bool

func (w NullWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func main() {
	verbose := flag.Bool("v", false, "verbose")
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

	dir := ""
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	err := startGui(verboselog, dir)
	if err != nil {
		log.Fatalln("Error running gui:", err)
	}
}
