// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/AaronRecord/document-cleaner"
	"github.com/AaronRecord/document-cleaner/despeck"
	"github.com/AaronRecord/document-cleaner/imgio"
)

// StrLog is a simple logger that saves to a string,
// so it can be printed out only when needed.
type StrLog struct {
	log string
}

func (t *StrLog) Write(p []byte) (n int, err error) {
	t.log += string(p)
	return len(p), nil
}

// Test_download tests the download() function inside the pipeline
func Test_download(t *testing.T) {
	var slog StrLog
	vlog := log.New(&slog, "", 0)

	conn := &cleaner.LocalConn{TempDir: t.TempDir(), Logger: vlog}
	err := conn.Init()
	if err != nil {
		t.Fatalf("Could not initialise connection: %v\nLog: %s", err, slog.log)
	}

	cases := []struct {
		dl       string
		contents []byte
		process  string
		errs     []error
	}{
		{"notpresent", []byte(""), "", []error{errors.New("no such file or directory")}},
		{"empty", []byte{}, "empty", []error{}},
		{"justastring", []byte("I am just a basic string"), "justastring", []error{}},
	}

	for _, c := range cases {
		t.Run(c.dl, func(t *testing.T) {
			slog.log = ""
			tempDir := t.TempDir()

			// create and upload test file
			tempFile := filepath.Join(tempDir, "t")
			err = os.WriteFile(tempFile, c.contents, 0600)
			if err != nil {
				t.Fatalf("Could not create temporary file %s: %v\nLog: %s", tempFile, err, slog.log)
			}
			if c.dl != "notpresent" {
				err = conn.Upload(conn.WIPStorageId(), c.dl, tempFile)
				if err != nil {
					t.Fatalf("Could not upload file %s: %v\nLog: %s", tempFile, err, slog.log)
				}
			}
			err = os.Remove(tempFile)
			if err != nil {
				t.Fatalf("Could not remove temporary upload file %s: %v\nLog: %s", tempFile, err, slog.log)
			}

			// download
			dlchan := make(chan string)
			processchan := make(chan string)
			errchan := make(chan error)

			go download(context.Background(), dlchan, processchan, conn, tempDir, errchan, vlog)

			dlchan <- c.dl
			close(dlchan)

			// check all is as expected
			select {
			case err = <-errchan:
				if len(c.errs) == 0 {
					t.Fatalf("Received an error when one was not expected, error: %v\nLog: %s", err, slog.log)
				}
				found := false
				for _, v := range c.errs {
					if strings.Contains(err.Error(), v.Error()) {
						found = true
					}
				}
				if !found {
					t.Fatalf("Received a different error than was expected, expected one of: %v, got %v\nLog: %s", c.errs, err, slog.log)
				}
			case fn := <-processchan:
				if c.process == "" {
					t.Fatalf("Received a file when one was not expected: %s\nLog: %s", fn, slog.log)
				}
				if filepath.Base(fn) != c.process {
					t.Fatalf("Received a different file than was expected, expected %s, got %s\nLog: %s", c.process, filepath.Base(fn), slog.log)
				}
				b, err := os.ReadFile(fn)
				if err != nil {
					t.Fatalf("Could not read downloaded file %s: %v\nLog: %s", fn, err, slog.log)
				}
				if string(b) != string(c.contents) {
					t.Fatalf("Downloaded file differs from uploaded one, expected %s, got %s\nLog: %s", c.contents, b, slog.log)
				}
			}
		})
	}
}

// Test_Pipeline runs a book through the whole cleaning pipeline using
// the local connection: fan out to the page queue, clean each page,
// and build the report.
func Test_Pipeline(t *testing.T) {
	var slog StrLog
	vlog := log.New(&slog, "", 0)
	ctx := context.Background()

	conn := &cleaner.LocalConn{TempDir: t.TempDir(), Logger: vlog}
	err := conn.Init()
	if err != nil {
		t.Fatalf("Could not initialise connection: %v\nLog: %s", err, slog.log)
	}

	const bookname = "testbook"
	_ = os.RemoveAll(filepath.Join(os.TempDir(), bookname))

	// upload a small book
	dir := t.TempDir()
	for _, fn := range []string{"1.png", "2.png"} {
		err = imgio.Encode(filepath.Join(dir, fn), testpage(200, 200))
		if err != nil {
			t.Fatalf("Error preparing test image %s: %v", fn, err)
		}
	}
	err = UploadImages(ctx, dir, bookname, conn)
	if err != nil {
		t.Fatalf("UploadImages failed: %v\nLog: %s", err, slog.log)
	}
	err = conn.AddToQueue(conn.BookQueueId(), bookname)
	if err != nil {
		t.Fatalf("AddToQueue failed: %v\nLog: %s", err, slog.log)
	}

	// fan the book out to the page queue
	msg, err := conn.CheckQueue(conn.BookQueueId(), HeartbeatSeconds*2)
	if err != nil || msg.Handle == "" {
		t.Fatalf("Could not get book message from queue: %v\nLog: %s", err, slog.log)
	}
	err = ProcessBook(ctx, msg, conn, Verify(), regexp.MustCompile(`\.png$`), conn.BookQueueId(), conn.PageQueueId())
	if err != nil {
		t.Fatalf("ProcessBook failed: %v\nLog: %s", err, slog.log)
	}

	// clean each page
	npages := 0
	for {
		msg, err = conn.CheckQueue(conn.PageQueueId(), HeartbeatSeconds*2)
		if err != nil {
			t.Fatalf("Could not check page queue: %v\nLog: %s", err, slog.log)
		}
		if msg.Handle == "" {
			break
		}
		err = CleanPage(ctx, msg, conn, Despeckle(despeck.NewAnalyser(), despeck.NewCleaner()), conn.PageQueueId(), conn.ReportQueueId())
		if err != nil {
			t.Fatalf("CleanPage failed for %s: %v\nLog: %s", msg.Body, err, slog.log)
		}
		npages++
	}
	if npages != 2 {
		t.Fatalf("Expected 2 pages in page queue, processed %d\nLog: %s", npages, slog.log)
	}

	objs, err := conn.ListObjects(conn.WIPStorageId(), bookname)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	for _, want := range []string{"1_0000_clean.png", "2_0001_clean.png", "1_0000.stat", "2_0001.stat"} {
		found := false
		for _, o := range objs {
			if o == bookname+"/"+want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("Expected %s in storage after cleaning, got %v\nLog: %s", want, objs, slog.log)
		}
	}

	// build the report; the book name should have been queued when
	// the last page was cleaned
	msg, err = conn.CheckQueue(conn.ReportQueueId(), HeartbeatSeconds*2)
	if err != nil || msg.Handle == "" {
		t.Fatalf("Could not get report message from queue: %v\nLog: %s", err, slog.log)
	}
	if msg.Body != bookname {
		t.Fatalf("Expected report message %s, got %s\nLog: %s", bookname, msg.Body, slog.log)
	}
	err = ProcessBook(ctx, msg, conn, Report(conn), regexp.MustCompile(`\.stat$`), conn.ReportQueueId(), "")
	if err != nil {
		t.Fatalf("Report ProcessBook failed: %v\nLog: %s", err, slog.log)
	}

	objs, err = conn.ListObjects(conn.WIPStorageId(), bookname)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	for _, want := range []string{"stats", "graph.png", bookname + ".cleaned.pdf"} {
		found := false
		for _, o := range objs {
			if o == bookname+"/"+want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("Expected %s in storage after report, got %v\nLog: %s", want, objs, slog.log)
		}
	}

	// download the results as a user would
	outdir := t.TempDir()
	err = DownloadCleaned(outdir, bookname, conn)
	if err != nil {
		t.Fatalf("DownloadCleaned failed: %v\nLog: %s", err, slog.log)
	}
	err = DownloadReport(outdir, bookname, conn)
	if err != nil {
		t.Fatalf("DownloadReport failed: %v\nLog: %s", err, slog.log)
	}
	err = DownloadPdf(outdir, bookname, conn)
	if err != nil {
		t.Fatalf("DownloadPdf failed: %v\nLog: %s", err, slog.log)
	}
	b, err := os.ReadFile(filepath.Join(outdir, "stats"))
	if err != nil {
		t.Fatalf("Could not read downloaded stats: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines of stats, got %d: %q", len(lines), b)
	}
	for i, l := range lines {
		want := fmt.Sprintf("%d_000%d_clean.png", i+1, i)
		if !strings.HasPrefix(l, want) {
			t.Fatalf("Expected stats line %d to start with %s, got %q", i, want, l)
		}
	}

	// all queues should be empty now
	for _, q := range []string{conn.BookQueueId(), conn.PageQueueId(), conn.ReportQueueId()} {
		msg, err = conn.CheckQueue(q, HeartbeatSeconds*2)
		if err != nil {
			t.Fatalf("Could not check queue %s: %v", q, err)
		}
		if msg.Handle != "" {
			t.Fatalf("Expected queue %s to be empty, got message %s\nLog: %s", q, msg.Body, slog.log)
		}
	}
}
