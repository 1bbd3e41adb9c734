// Package pdf adapts the poppler command line tools to the domain's
// PDFToolkit port: pdftotext in bounding-box mode for text layout and
// pdftoppm for page rasterization. Both run as subprocesses so a corrupt
// document can never take the worker down with it.
package pdf

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/question"
)

// DefaultDPI is the rasterization resolution used when the caller does
// not request one.
const DefaultDPI = 150

// PopplerToolkit runs the poppler binaries. Empty paths resolve the bare
// command names through PATH.
type PopplerToolkit struct {
	pdftotextPath string
	pdftoppmPath  string
}

var _ ports.PDFToolkit = (*PopplerToolkit)(nil)

// NewPopplerToolkit creates a toolkit around the given binaries
func NewPopplerToolkit(pdftotextPath, pdftoppmPath string) *PopplerToolkit {
	if pdftotextPath == "" {
		pdftotextPath = "pdftotext"
	}
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}
	return &PopplerToolkit{
		pdftotextPath: pdftotextPath,
		pdftoppmPath:  pdftoppmPath,
	}
}

// ExtractLayout shells out to pdftotext in bounding-box mode and parses
// the XHTML document it writes to stdout.
func (t *PopplerToolkit) ExtractLayout(ctx context.Context, pdfPath string) ([]question.PageLayout, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.pdftotextPath, "-bbox", pdfPath, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext failed for %s: %w: %s",
			pdfPath, err, strings.TrimSpace(stderr.String()))
	}

	pages, err := parseBBoxDocument(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdftotext layout for %s: %w", pdfPath, err)
	}
	return pages, nil
}

// RenderPage rasterizes a single page to PNG. With no output prefix
// pdftoppm writes the image to stdout, which sidesteps its page-number
// file suffix scheme entirely.
func (t *PopplerToolkit) RenderPage(ctx context.Context, pdfPath string, page int, dpi int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("page numbers are 1-based, got %d", page)
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.pdftoppmPath,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		pdfPath,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed for %s page %d: %w: %s",
			pdfPath, page, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("pdftoppm produced no output for %s page %d", pdfPath, page)
	}
	return stdout.Bytes(), nil
}

// bboxWord mirrors one <word> element of the -bbox output
type bboxWord struct {
	XMin float64 `xml:"xMin,attr"`
	YMin float64 `xml:"yMin,attr"`
	XMax float64 `xml:"xMax,attr"`
	YMax float64 `xml:"yMax,attr"`
	Text string  `xml:",chardata"`
}

// bboxPage mirrors one <page> element of the -bbox output
type bboxPage struct {
	Width  float64    `xml:"width,attr"`
	Height float64    `xml:"height,attr"`
	Words  []bboxWord `xml:"word"`
}

// parseBBoxDocument walks the XHTML document pdftotext -bbox produces
// and collects its <page> elements in document order. Page numbers are
// assigned by position since the format carries none.
func parseBBoxDocument(r io.Reader) ([]question.PageLayout, error) {
	decoder := xml.NewDecoder(r)
	// The output is XHTML with an HTML doctype; accept its entities
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity

	var pages []question.PageLayout
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed layout document: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "page" {
			continue
		}

		var page bboxPage
		if err := decoder.DecodeElement(&page, &start); err != nil {
			return nil, fmt.Errorf("malformed page element: %w", err)
		}

		layout := question.PageLayout{
			Number: len(pages) + 1,
			Width:  page.Width,
			Height: page.Height,
		}
		for _, w := range page.Words {
			text := strings.TrimSpace(w.Text)
			if text == "" {
				continue
			}
			layout.Words = append(layout.Words, question.Word{
				Text: text,
				XMin: w.XMin,
				YMin: w.YMin,
				XMax: w.XMax,
				YMax: w.YMax,
			})
		}
		pages = append(pages, layout)
	}
	return pages, nil
}
