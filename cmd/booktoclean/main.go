// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// booktoclean uploads a book to cloud storage and adds the name
// to a queue ready to be processed by the cleanpipeline tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/AaronRecord/document-cleaner"

	"github.com/AaronRecord/document-cleaner/internal/pipeline"
)

const usage = `Usage: booktoclean [-c conn] [-v] bookdir [bookname]

Uploads the book in bookdir to the 'inprogress' bucket and adds it
to the book queue, ready to be cleaned by the cleanpipeline tool.

If bookname is omitted the last part of the bookdir is used.
`

var verboselog *log.Logger

func main() {
	verbose := flag.Bool("v", false, "Verbose")
	conntype := flag.String("c", "aws", "connection type ('aws' or 'local')")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		return
	}

	bookdir := flag.Arg(0)
	var bookname string
	if flag.NArg() > 1 {
		bookname = flag.Arg(1)
	} else {
		bookname = filepath.Base(bookdir)
	}

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
	err := conn.Init()
	if err != nil {
		log.Fatalln("Failed to set up cloud connection:", err)
	}

	ctx := context.Background()

	verboselog.Println("Checking that all images are valid in", bookdir)
	err = pipeline.CheckImages(ctx, bookdir)
	if err != nil {
		log.Fatalln(err)
	}

	verboselog.Println("Checking that a book hasn't already been uploaded with that name")
	list, err := conn.ListObjects(conn.WIPStorageId(), bookname)
	if err != nil {
		log.Fatalln(err)
	}
	if len(list) > 0 {
		log.Fatalf("Error: There is already a book in storage named %s", bookname)
	}

	verboselog.Println("Uploading all images in", bookdir)
	err = pipeline.UploadImages(ctx, bookdir, bookname, conn)
	if err != nil {
		log.Fatalln(err)
	}

	err = conn.AddToQueue(conn.BookQueueId(), bookname)
	if err != nil {
		log.Fatalln("Error adding book to queue:", err)
	}

	fmt.Println("Uploaded book to the cleaning queue")
}
