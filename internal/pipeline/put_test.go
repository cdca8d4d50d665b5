// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AaronRecord/document-cleaner"
	"github.com/AaronRecord/document-cleaner/imgio"
)

// testpage creates a white page with a black block in the middle,
// which is plenty for exercising the pipeline plumbing.
func testpage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)
	block := image.Rect(w/2-20, h/2-20, w/2+20, h/2+20)
	draw.Draw(img, block, &image.Uniform{color.RGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)
	return img
}

func Test_CheckImages(t *testing.T) {
	good := t.TempDir()
	err := imgio.Encode(filepath.Join(good, "1.png"), testpage(100, 100))
	if err != nil {
		t.Fatalf("Error preparing good test image: %v", err)
	}

	bad := t.TempDir()
	err = os.WriteFile(filepath.Join(bad, "bad.png"), []byte("not a png"), 0644)
	if err != nil {
		t.Fatalf("Error preparing bad test image: %v", err)
	}

	cases := []struct {
		name string
		dir  string
		err  string
	}{
		{"good", good, ""},
		{"bad", bad, "failed"},
		{"empty", t.TempDir(), "No images found"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := CheckImages(context.Background(), c.dir)
			if err == nil && c.err != "" {
				t.Fatalf("Expected error '%v', got no error", c.err)
			}
			if err != nil && c.err == "" {
				t.Fatalf("Expected no error, got error '%v'", err)
			}
			if err != nil && !strings.Contains(err.Error(), c.err) {
				t.Fatalf("Got an unexpected error, expected '%v', got '%v'", c.err, err)
			}
		})
	}
}

func Test_UploadImages(t *testing.T) {
	var slog StrLog
	vlog := log.New(&slog, "", 0)
	conn := &cleaner.LocalConn{TempDir: t.TempDir(), Logger: vlog}
	err := conn.Init()
	if err != nil {
		t.Fatalf("Could not initialise connection: %v", err)
	}

	dir := t.TempDir()
	for _, fn := range []string{"2.png", "1.png", ".hidden.png"} {
		err = imgio.Encode(filepath.Join(dir, fn), testpage(50, 50))
		if err != nil {
			t.Fatalf("Error preparing test image %s: %v", fn, err)
		}
	}
	err = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0644)
	if err != nil {
		t.Fatalf("Error preparing test file: %v", err)
	}

	err = UploadImages(context.Background(), dir, "testbook", conn)
	if err != nil {
		t.Fatalf("UploadImages failed: %v\nLog: %s", err, slog.log)
	}

	objs, err := conn.ListObjects(conn.WIPStorageId(), "testbook")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	expected := []string{"testbook/1_0000.png", "testbook/2_0001.png"}
	if len(objs) != len(expected) {
		t.Fatalf("Expected %d uploaded files, got %d: %v", len(expected), len(objs), objs)
	}
	for i, want := range expected {
		if objs[i] != want {
			t.Fatalf("Expected object %s, got %s", want, objs[i])
		}
	}
}
