// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// getcleanbook downloads the results of cleaning a book: the cleaned
// page images, the stats and graph report files, and the PDF.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/AaronRecord/document-cleaner"

	"github.com/AaronRecord/document-cleaner/internal/pipeline"
)

const usage = `Usage: getcleanbook [-a] [-c conn] [-v] bookname

Downloads the cleaning results for a book into a directory named
after the book.

By default this downloads the cleaned version of each page, the
PDF of the cleaned book, and the stats and graph.png report files.
With -a every file stored for the book is downloaded, including the
original uploaded pages.
`

func main() {
	all := flag.Bool("a", false, "Get all files for book")
	conntype := flag.String("c", "aws", "connection type ('aws' or 'local')")
	verbose := flag.Bool("v", false, "Verbose")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return
	}

	var verboselog *log.Logger
	if *verbose {
		verboselog = log.New(os.Stdout, "", log.LstdFlags)
	} else {
		var n pipeline.NullWriter
		verboselog = log.New(n, "", log.LstdFlags)
	}

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

	bookname := flag.Arg(0)

	err = os.MkdirAll(bookname, 0755)
	if err != nil {
		log.Fatalln("Failed to create directory", bookname, err)
	}

	if *all {
		verboselog.Println("Downloading all files for", bookname)
		err = pipeline.DownloadAll(bookname, bookname, conn)
		if err != nil {
			log.Fatalln(err)
		}
		return
	}

	verboselog.Println("Downloading cleaned pages for", bookname)
	err = pipeline.DownloadCleaned(bookname, bookname, conn)
	if err != nil {
		log.Fatalln(err)
	}

	verboselog.Println("Downloading report files")
	err = pipeline.DownloadReport(bookname, bookname, conn)
	if err != nil {
		log.Fatalln(err)
	}

	verboselog.Println("Downloading PDF")
	err = pipeline.DownloadPdf(bookname, bookname, conn)
	if err != nil {
		log.Println(err)
	}
}
