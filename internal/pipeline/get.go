// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AaronRecord/document-cleaner/imgio"
)

// DownloadCleaned downloads the cleaned page images of a book.
func DownloadCleaned(dir string, name string, conn DownloadLister) error {
	objs, err := conn.ListObjects(conn.WIPStorageId(), name)
	if err != nil {
		return fmt.Errorf("Failed to get list of files for book %s: %v", name, err)
	}
	anydone := false
	for _, i := range objs {
		base := filepath.Base(i)
		if !cleanedPattern.MatchString(base) || !imgio.Supported(base) {
			continue
		}
		fn := filepath.Join(dir, base)
		conn.Log("Downloading", i)
		err = conn.Download(conn.WIPStorageId(), i, fn)
		if err != nil {
			return fmt.Errorf("Failed to download file %s: %v", i, err)
		}
		anydone = true
	}
	if anydone == false {
		return fmt.Errorf("No cleaned pages found for book %s", name)
	}
	return nil
}

// DownloadPdf downloads the PDF assembled from the cleaned pages of
// a book.
func DownloadPdf(dir string, name string, conn Downloader) error {
	key := filepath.Join(name, name+".cleaned.pdf")
	fn := filepath.Join(dir, name+".cleaned.pdf")
	err := conn.Download(conn.WIPStorageId(), key, fn)
	if err != nil {
		_ = os.Remove(fn)
		return fmt.Errorf("Failed to download PDF %s: %v", key, err)
	}
	return nil
}

// DownloadReport downloads the stats file and graph of a book.
func DownloadReport(dir string, name string, conn Downloader) error {
	for _, a := range []string{"stats", "graph.png"} {
		key := filepath.Join(name, a)
		fn := filepath.Join(dir, a)
		err := conn.Download(conn.WIPStorageId(), key, fn)
		// ignore errors with graph.png, as it will not exist in the case of a 1 page book
		if err != nil && a != "graph.png" {
			return fmt.Errorf("Failed to download report file %s: %v", key, err)
		}
	}
	return nil
}

// DownloadAll downloads every file of a book.
func DownloadAll(dir string, name string, conn DownloadLister) error {
	objs, err := conn.ListObjects(conn.WIPStorageId(), name)
	if err != nil {
		return fmt.Errorf("Failed to get list of files for book %s: %v", name, err)
	}
	for _, i := range objs {
		base := filepath.Base(i)
		fn := filepath.Join(dir, base)
		conn.Log("Downloading", i)
		err = conn.Download(conn.WIPStorageId(), i, fn)
		if err != nil {
			return fmt.Errorf("Failed to download file %s: %v", i, err)
		}
	}
	return nil
}
