// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

// The imgio package reads and writes page images in the formats
// scans commonly arrive in, choosing the encoder from the file
// extension.
package imgio

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 92

// Extensions returns the file extensions (without the dot) of every
// format that can be both read and written, for use in dialog
// filters and directory scans.
func Extensions() []string {
	return []string{"png", "jpg", "jpeg", "tif", "tiff", "webp"}
}

// Supported reports whether the file extension of path is a
// supported image format.
func Supported(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range Extensions() {
		if ext == e {
			return true
		}
	}
	return false
}

// Decode reads and decodes the image at path.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to open image %s: %v", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode image %s: %v", path, err)
	}
	return img, nil
}

// Encode writes img to path, using the encoder matching the file
// extension. WebP output is lossless, as is appropriate for cleaned
// page images that may go on to OCR.
func Encode(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("Failed to create image file %s: %v", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, nil)
	case ".webp":
		err = nativewebp.Encode(f, img, nil)
	default:
		err = fmt.Errorf("Unknown image format %s", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("Failed to encode image %s: %v", path, err)
	}
	return f.Close()
}
