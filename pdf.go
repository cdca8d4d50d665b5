// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package cleaner

import (
	"bytes"
	"fmt"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/nickjwhite/gofpdf"

	"github.com/AaronRecord/document-cleaner/imgio"
)

const pageWidth = 5 // pageWidth in inches

// pxToPt converts a pixel value into a pt value (72 pts per inch)
// This uses pageWidth to determine the appropriate value
func pxToPt(i int) float64 {
	return float64(i) / pageWidth
}

// Fpdf assembles cleaned page images into a PDF, one image per
// page, each page sized to its image.
type Fpdf struct {
	fpdf *gofpdf.Fpdf
}

// Setup creates a new PDF with appropriate settings
func (p *Fpdf) Setup() error {
	p.fpdf = gofpdf.New("P", "pt", "A4", "")
	p.fpdf.SetAutoPageBreak(false, float64(0))
	return p.fpdf.Error()
}

// AddPage adds a page to the pdf containing the image at imgpath.
// Formats which gofpdf can't embed directly are re-encoded as PNG
// first.
func (p *Fpdf) AddPage(imgpath string) error {
	img, err := imgio.Decode(imgpath)
	if err != nil {
		return err
	}
	b := img.Bounds()
	p.fpdf.AddPageFormat("P", gofpdf.SizeType{Wd: pxToPt(b.Dx()), Ht: pxToPt(b.Dy())})

	switch strings.ToLower(filepath.Ext(imgpath)) {
	case ".png", ".jpg", ".jpeg":
		_ = p.fpdf.RegisterImageOptions(imgpath, gofpdf.ImageOptions{})
		p.fpdf.ImageOptions(imgpath, 0, 0, pxToPt(b.Dx()), pxToPt(b.Dy()), false, gofpdf.ImageOptions{}, 0, "")
	default:
		var buf bytes.Buffer
		err = png.Encode(&buf, img)
		if err != nil {
			return fmt.Errorf("Failed to re-encode %s for PDF embedding: %v", imgpath, err)
		}
		opts := gofpdf.ImageOptions{ImageType: "png"}
		_ = p.fpdf.RegisterImageOptionsReader(imgpath, opts, &buf)
		p.fpdf.ImageOptions(imgpath, 0, 0, pxToPt(b.Dx()), pxToPt(b.Dy()), false, opts, 0, "")
	}
	return p.fpdf.Error()
}

// Save saves the PDF to the file at path
func (p *Fpdf) Save(path string) error {
	return p.fpdf.OutputFileAndClose(path)
}
