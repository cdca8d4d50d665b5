// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// pipeline is a package used by the cleanpipeline command, which
// handles the core functionality, using channels heavily to
// coordinate jobs. Note that it is considered an "internal" package,
// not intended for external use, and no guarantee is made of the
// stability of any interfaces provided.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AaronRecord/document-cleaner"
	"github.com/AaronRecord/document-cleaner/despeck"
	"github.com/AaronRecord/document-cleaner/imgio"
)

const HeartbeatSeconds = 60

// cleanedPattern matches the names of files produced by the
// despeckle stage, both images and their stat sidecars.
var cleanedPattern = regexp.MustCompile(`_clean\.[a-z]+$`)

type Lister interface {
	ListObjects(bucket string, prefix string) ([]string, error)
	Log(v ...interface{})
	WIPStorageId() string
}

type Downloader interface {
	Download(bucket string, key string, fn string) error
	Log(v ...interface{})
	WIPStorageId() string
}

type DownloadLister interface {
	Download(bucket string, key string, fn string) error
	ListObjects(bucket string, prefix string) ([]string, error)
	Log(v ...interface{})
	WIPStorageId() string
}

type Uploader interface {
	Log(v ...interface{})
	Upload(bucket string, key string, path string) error
	WIPStorageId() string
}

type Queuer interface {
	AddToQueue(url string, msg string) error
	BookQueueId() string
	CheckQueue(url string, timeout int64) (cleaner.Qmsg, error)
	DelFromQueue(url string, handle string) error
	Log(v ...interface{})
	PageQueueId() string
	QueueHeartbeat(msg cleaner.Qmsg, qurl string, duration int64) (cleaner.Qmsg, error)
	ReportQueueId() string
}

type UploadQueuer interface {
	Log(v ...interface{})
	Upload(bucket string, key string, path string) error
	WIPStorageId() string
	BookQueueId() string
	PageQueueId() string
	ReportQueueId() string
	CheckQueue(url string, timeout int64) (cleaner.Qmsg, error)
	AddToQueue(url string, msg string) error
	DelFromQueue(url string, handle string) error
	QueueHeartbeat(msg cleaner.Qmsg, qurl string, duration int64) (cleaner.Qmsg, error)
}

type Pipeliner interface {
	AddToQueue(url string, msg string) error
	BookQueueId() string
	CheckQueue(url string, timeout int64) (cleaner.Qmsg, error)
	DelFromQueue(url string, handle string) error
	Download(bucket string, key string, fn string) error
	GetLogger() *log.Logger
	Init() error
	ListObjects(bucket string, prefix string) ([]string, error)
	Log(v ...interface{})
	PageQueueId() string
	QueueHeartbeat(msg cleaner.Qmsg, qurl string, duration int64) (cleaner.Qmsg, error)
	ReportQueueId() string
	Upload(bucket string, key string, path string) error
	WIPStorageId() string
}

type MinPipeliner interface {
	Pipeliner
	MinimalInit() error
}

// download reads file names from a channel and downloads them into
// dir, putting each successfully downloaded file name into the
// process channel. If an error occurs it is sent to the errc channel
// and the function returns early.
func download(ctx context.Context, dl chan string, process chan string, conn Downloader, dir string, errc chan error, logger *log.Logger) {
	for key := range dl {
		select {
		case <-ctx.Done():
			for range dl {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- ctx.Err()
			close(process)
			return
		default:
		}
		fn := filepath.Join(dir, filepath.Base(key))
		logger.Println("Downloading", key)
		err := conn.Download(conn.WIPStorageId(), key, fn)
		if err != nil {
			for range dl {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- err
			close(process)
			return
		}
		process <- fn
	}
	close(process)
}

// up reads file names from a channel and uploads them with
// the bookname/ prefix, removing the local copy of each file
// once it has been successfully uploaded. The done channel is
// then written to to signal completion. If an error occurs it
// is sent to the errc channel and the function returns early.
func up(ctx context.Context, c chan string, done chan bool, conn Uploader, bookname string, errc chan error, logger *log.Logger) {
	for path := range c {
		select {
		case <-ctx.Done():
			for range c {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- ctx.Err()
			return
		default:
		}
		name := filepath.Base(path)
		key := bookname + "/" + name
		logger.Println("Uploading", key)
		err := conn.Upload(conn.WIPStorageId(), key, path)
		if err != nil {
			for range c {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- err
			return
		}
		err = os.Remove(path)
		if err != nil {
			for range c {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- err
			return
		}
	}

	done <- true
}

// upAndQueue reads file names from a channel and uploads them with
// the bookname/ prefix, removing the local copy of each file
// once it has been successfully uploaded. Each done file name is
// added to the toQueue once it has been uploaded. The done channel
// is then written to to signal completion. If an error occurs it
// is sent to the errc channel and the function returns early.
func upAndQueue(ctx context.Context, c chan string, done chan bool, toQueue string, conn UploadQueuer, bookname string, errc chan error, logger *log.Logger) {
	for path := range c {
		select {
		case <-ctx.Done():
			for range c {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- ctx.Err()
			return
		default:
		}
		name := filepath.Base(path)
		key := bookname + "/" + name
		logger.Println("Uploading", key)
		err := conn.Upload(conn.WIPStorageId(), key, path)
		if err != nil {
			for range c {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- err
			return
		}
		err = os.Remove(path)
		if err != nil {
			for range c {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- err
			return
		}
		logger.Println("Adding", key, "to queue", toQueue)
		err = conn.AddToQueue(toQueue, key)
		if err != nil {
			for range c {
			} // consume the rest of the receiving channel so it isn't blocked
			errc <- err
			return
		}
	}

	done <- true
}

// Verify returns a process function that checks each page image can
// be decoded, passing it through unchanged. It is used when fanning a
// book out to the page queue, so that a book with a broken page fails
// in one place rather than as scattered per-page failures later.
func Verify() func(context.Context, chan string, chan string, chan error, *log.Logger) {
	return func(ctx context.Context, toverify chan string, up chan string, errc chan error, logger *log.Logger) {
		for path := range toverify {
			select {
			case <-ctx.Done():
				for range toverify {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- ctx.Err()
				return
			default:
			}
			logger.Println("Verifying", path)
			_, err := imgio.Decode(path)
			if err != nil {
				for range toverify {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- fmt.Errorf("Error decoding %s: %v", path, err)
				return
			}
			up <- path
		}
		close(up)
	}
}

// Despeckle returns a process function that analyses and cleans each
// page image, producing a cleaned image named like the original with
// a _clean suffix, plus a .stat sidecar recording the cleaned image
// name and how many graphemes were found and removed.
func Despeckle(analyser despeck.Analyser, c despeck.Cleaner) func(context.Context, chan string, chan string, chan error, *log.Logger) {
	return func(ctx context.Context, toclean chan string, up chan string, errc chan error, logger *log.Logger) {
		for path := range toclean {
			select {
			case <-ctx.Done():
				for range toclean {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- ctx.Err()
				return
			default:
			}
			logger.Println("Cleaning", path)
			img, err := imgio.Decode(path)
			if err != nil {
				for range toclean {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- fmt.Errorf("Error decoding %s: %v", path, err)
				return
			}
			analysed, err := analyser.Analyse(img)
			if err != nil {
				for range toclean {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- fmt.Errorf("Error analysing %s: %v", path, err)
				return
			}
			decisions := c.Decisions(analysed, nil)
			cleaned := c.Render(analysed, decisions)

			ext := filepath.Ext(path)
			base := strings.TrimSuffix(path, ext)
			outpath := base + "_clean" + ext
			err = imgio.Encode(outpath, cleaned)
			if err != nil {
				for range toclean {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- fmt.Errorf("Error encoding %s: %v", outpath, err)
				return
			}

			removed := 0
			for _, keep := range decisions {
				if !keep {
					removed++
				}
			}
			statpath := base + ".stat"
			err = os.WriteFile(statpath, []byte(fmt.Sprintf("%s\t%d\t%d\n", filepath.Base(outpath), len(decisions), removed)), 0644)
			if err != nil {
				for range toclean {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- fmt.Errorf("Error writing stats for %s: %v", path, err)
				return
			}

			_ = os.Remove(path)
			up <- outpath
			up <- statpath
		}
		close(up)
	}
}

// Report returns a process function that collects the .stat sidecars
// of a book, writes a combined stats file and a graph of removal
// percentages, and assembles the cleaned pages into a PDF. The
// cleaned page images are downloaded as needed and removed once
// added to the PDF.
func Report(conn Downloader) func(context.Context, chan string, chan string, chan error, *log.Logger) {
	return func(ctx context.Context, tostats chan string, up chan string, errc chan error, logger *log.Logger) {
		stats := make(map[string]*cleaner.PageStat)
		savedir := ""

		for path := range tostats {
			select {
			case <-ctx.Done():
				for range tostats {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- ctx.Err()
				return
			default:
			}
			if savedir == "" {
				savedir = filepath.Dir(path)
			}
			logger.Println("Reading cleaning stats from", path)
			s, err := readStat(path)
			if err != nil {
				for range tostats {
				} // consume the rest of the receiving channel so it isn't blocked
				errc <- fmt.Errorf("Error reading stats from %s: %v", path, err)
				return
			}
			name := strings.TrimSuffix(filepath.Base(path), ".stat")
			stats[name] = s
		}

		select {
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		default:
		}

		var names []string
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)

		fn := filepath.Join(savedir, "stats")
		logger.Println("Saving combined stats in file", fn)
		f, err := os.Create(fn)
		if err != nil {
			errc <- fmt.Errorf("Error creating file %s: %s", fn, err)
			return
		}
		defer f.Close()
		for _, name := range names {
			s := stats[name]
			_, err = fmt.Fprintf(f, "%s\t%d\t%d\t%.1f\n", s.Path, s.Graphemes, s.Removed, s.Percent())
			if err != nil {
				errc <- fmt.Errorf("Error writing stats file: %s", err)
				return
			}
		}
		f.Close()
		up <- fn

		select {
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		default:
		}

		logger.Println("Creating graph")
		fn = filepath.Join(savedir, "graph.png")
		f, err = os.Create(fn)
		if err != nil {
			errc <- fmt.Errorf("Error creating file %s: %s", fn, err)
			return
		}
		defer f.Close()
		err = cleaner.Graph(stats, filepath.Base(savedir), f)
		if err != nil {
			_ = os.Remove(fn)
		}
		if err != nil && err.Error() != "Not enough pages to graph" {
			errc <- fmt.Errorf("Error rendering graph: %s", err)
			return
		}
		if err == nil {
			up <- fn
		}

		select {
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		default:
		}

		logger.Println("Downloading cleaned pages to create PDF")
		bookname, err := filepath.Rel(os.TempDir(), savedir)
		if err != nil {
			errc <- fmt.Errorf("Failed to do filepath.Rel of %s to %s: %s", os.TempDir(), savedir, err)
			return
		}
		pdf := new(cleaner.Fpdf)
		err = pdf.Setup()
		if err != nil {
			errc <- fmt.Errorf("Failed to set up PDF: %s", err)
			return
		}
		hascontent := false

		for _, name := range names {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			default:
			}

			img := stats[name].Path
			logger.Println("Downloading cleaned page to add to PDF", img)
			err := conn.Download(conn.WIPStorageId(), bookname+"/"+img, filepath.Join(savedir, img))
			if err != nil {
				logger.Println("Download failed; skipping page", img)
				continue
			}
			err = pdf.AddPage(filepath.Join(savedir, img))
			if err != nil {
				errc <- fmt.Errorf("Failed to add page %s to PDF: %s", img, err)
				return
			}
			hascontent = true
			err = os.Remove(filepath.Join(savedir, img))
			if err != nil {
				errc <- err
				return
			}
		}

		select {
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		default:
		}

		if hascontent {
			fn = filepath.Join(savedir, bookname+".cleaned.pdf")
			err = pdf.Save(fn)
			if err != nil {
				errc <- fmt.Errorf("Failed to save cleaned pdf: %s", err)
				return
			}
			up <- fn
		}

		close(up)
	}
}

// readStat parses a .stat sidecar written by the despeckle stage,
// which contains the cleaned image name, the number of graphemes
// found, and the number removed, separated by tabs.
func readStat(path string) (*cleaner.PageStat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	if !s.Scan() {
		return nil, fmt.Errorf("No stats found")
	}
	fields := strings.Split(s.Text(), "\t")
	if len(fields) != 3 {
		return nil, fmt.Errorf("Expected 3 fields, got %d", len(fields))
	}
	graphemes, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("Bad grapheme count %s: %v", fields[1], err)
	}
	removed, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("Bad removed count %s: %v", fields[2], err)
	}
	return &cleaner.PageStat{Path: fields[0], Graphemes: graphemes, Removed: removed}, nil
}

func heartbeat(conn Queuer, t *time.Ticker, msg cleaner.Qmsg, queue string, msgc chan cleaner.Qmsg, errc chan error) {
	currentmsg := msg
	for range t.C {
		m, err := conn.QueueHeartbeat(currentmsg, queue, HeartbeatSeconds*2)
		if err != nil {
			// This is for better debugging of the heartbeat issue
			conn.Log("Error with heartbeat", err)
			os.Exit(1)
			// TODO: would be better to ensure this error stops any running
			//       processes, as they will ultimately fail in the case of
			//       it. could do this by setting a global variable that
			//       processes check each time they loop.
			errc <- err
			t.Stop()
			return
		}
		if m.Id != "" {
			conn.Log("Replaced message handle as visibilitytimeout limit was reached")
			currentmsg = m
			// TODO: maybe handle communicating new msg more gracefully than this
			for range msgc {
			} // throw away any old msgc
			msgc <- m
		}
	}
}

// allCleaned checks whether every page image of a book has a
// corresponding _clean image.
func allCleaned(bookname string, conn Lister) bool {
	objs, err := conn.ListObjects(conn.WIPStorageId(), bookname)
	if err != nil {
		return false
	}

	atleastone := false
	for _, obj := range objs {
		if cleanedPattern.MatchString(obj) || !imgio.Supported(obj) {
			continue
		}
		atleastone = true
		ext := filepath.Ext(obj)
		cleaned := strings.TrimSuffix(obj, ext) + "_clean" + ext
		found := false
		for _, c := range objs {
			if c == cleaned {
				found = true
				break
			}
		}
		if found == false {
			return false
		}
	}
	if atleastone == false {
		return false
	}
	return true
}

// CleanPage cleans a page based on a message. The message body is the
// storage key of the page image; once every page of the book has been
// cleaned the book name is sent to toQueue so a report can be built.
func CleanPage(ctx context.Context, msg cleaner.Qmsg, conn Pipeliner, process func(context.Context, chan string, chan string, chan error, *log.Logger), fromQueue string, toQueue string) error {
	dl := make(chan string)
	msgc := make(chan cleaner.Qmsg)
	processc := make(chan string)
	upc := make(chan string)
	done := make(chan bool)
	errc := make(chan error)

	bookname := filepath.Dir(msg.Body)

	d := filepath.Join(os.TempDir(), bookname)
	err := os.MkdirAll(d, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %s: %s", d, err)
	}

	t := time.NewTicker(HeartbeatSeconds * time.Second)
	go heartbeat(conn, t, msg, fromQueue, msgc, errc)

	// these functions will do their jobs when their channels have data
	go download(ctx, dl, processc, conn, d, errc, conn.GetLogger())
	go process(ctx, processc, upc, errc, conn.GetLogger())
	go up(ctx, upc, done, conn, bookname, errc, conn.GetLogger())

	dl <- msg.Body
	close(dl)

	// wait for either the done or errc channels to be sent to
	select {
	case err = <-errc:
		t.Stop()
		_ = os.RemoveAll(d)
		return err
	case <-ctx.Done():
		t.Stop()
		_ = os.RemoveAll(d)
		return ctx.Err()
	case <-done:
	}

	if allCleaned(bookname, conn) && toQueue != "" {
		conn.Log("Sending", bookname, "to queue", toQueue)
		err = conn.AddToQueue(toQueue, bookname)
		if err != nil {
			t.Stop()
			_ = os.RemoveAll(d)
			return fmt.Errorf("Error adding to queue %s: %s", bookname, err)
		}
	}

	t.Stop()

	// check whether we're using a newer msg handle
	select {
	case m, ok := <-msgc:
		if ok {
			msg = m
			conn.Log("Using new message handle to delete message from queue")
		}
	default:
		conn.Log("Using original message handle to delete message from queue")
	}

	conn.Log("Deleting original message from queue", fromQueue)
	err = conn.DelFromQueue(fromQueue, msg.Handle)
	if err != nil {
		_ = os.RemoveAll(d)
		return fmt.Errorf("Error deleting message from queue: %s", err)
	}

	err = os.RemoveAll(d)
	if err != nil {
		return fmt.Errorf("Failed to remove directory %s: %s", d, err)
	}

	return nil
}

// ProcessBook processes a book based on a message, downloading each
// object of the book matching match, running process on it, and
// uploading the results. If toQueue is the page queue, each uploaded
// file is also queued there individually, fanning the book out so
// pages can be cleaned by any number of machines; otherwise the book
// name is sent to toQueue once everything has been uploaded.
func ProcessBook(ctx context.Context, msg cleaner.Qmsg, conn Pipeliner, process func(context.Context, chan string, chan string, chan error, *log.Logger), match *regexp.Regexp, fromQueue string, toQueue string) error {
	dl := make(chan string)
	msgc := make(chan cleaner.Qmsg)
	processc := make(chan string)
	upc := make(chan string)
	done := make(chan bool)
	errc := make(chan error)

	bookname := msg.Body

	d := filepath.Join(os.TempDir(), bookname)
	err := os.MkdirAll(d, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %s: %s", d, err)
	}

	t := time.NewTicker(HeartbeatSeconds * time.Second)
	go heartbeat(conn, t, msg, fromQueue, msgc, errc)

	// these functions will do their jobs when their channels have data
	go download(ctx, dl, processc, conn, d, errc, conn.GetLogger())
	go process(ctx, processc, upc, errc, conn.GetLogger())
	if toQueue == conn.PageQueueId() {
		go upAndQueue(ctx, upc, done, toQueue, conn, bookname, errc, conn.GetLogger())
	} else {
		go up(ctx, upc, done, conn, bookname, errc, conn.GetLogger())
	}

	conn.Log("Getting list of objects to download")
	objs, err := conn.ListObjects(conn.WIPStorageId(), bookname)
	if err != nil {
		t.Stop()
		_ = os.RemoveAll(d)
		return fmt.Errorf("Failed to get list of files for book %s: %s", bookname, err)
	}
	var todl []string
	for _, n := range objs {
		if !match.MatchString(n) {
			conn.Log("Skipping item that doesn't match target", n)
			continue
		}
		todl = append(todl, n)
	}
	for _, a := range todl {
		dl <- a
	}
	close(dl)

	// wait for either the done or errc channel to be sent to
	select {
	case err = <-errc:
		t.Stop()
		_ = os.RemoveAll(d)
		// if the error is at the fan out stage, chances are that it
		// will never complete, and will fill the page queue with parts
		// which succeeded on each run, so in that case it's better to
		// delete the message from the queue and log the failure.
		if fromQueue == conn.BookQueueId() {
			conn.Log("Deleting message from queue due to a bad error", fromQueue)
			err2 := conn.DelFromQueue(fromQueue, msg.Handle)
			if err2 != nil {
				conn.Log("Error deleting message from queue", err2)
			}
		}
		return err
	case <-ctx.Done():
		t.Stop()
		_ = os.RemoveAll(d)
		return ctx.Err()
	case <-done:
	}

	if toQueue != "" && toQueue != conn.PageQueueId() {
		conn.Log("Sending", bookname, "to queue", toQueue)
		err = conn.AddToQueue(toQueue, bookname)
		if err != nil {
			t.Stop()
			_ = os.RemoveAll(d)
			return fmt.Errorf("Error adding to queue %s: %s", bookname, err)
		}
	}

	t.Stop()

	// check whether we're using a newer msg handle
	select {
	case m, ok := <-msgc:
		if ok {
			msg = m
			conn.Log("Using new message handle to delete message from queue")
		}
	default:
		conn.Log("Using original message handle to delete message from queue")
	}

	conn.Log("Deleting original message from queue", fromQueue)
	err = conn.DelFromQueue(fromQueue, msg.Handle)
	if err != nil {
		_ = os.RemoveAll(d)
		return fmt.Errorf("Error deleting message from queue: %s", err)
	}

	err = os.RemoveAll(d)
	if err != nil {
		return fmt.Errorf("Failed to remove directory %s: %s", d, err)
	}

	return nil
}
