package ports

import (
	"context"

	"github.com/qbanklabs/qbank-go/internal/domain/question"
)

// PDFToolkit wraps the external PDF utilities used by the extract stage.
// Layout coordinates are in PDF points; rendering converts to pixels at
// the requested DPI.
type PDFToolkit interface {
	// ExtractLayout returns the positioned text of every page.
	ExtractLayout(ctx context.Context, pdfPath string) ([]question.PageLayout, error)

	// RenderPage rasterizes one page (1-based) to PNG bytes at the given DPI.
	RenderPage(ctx context.Context, pdfPath string, page int, dpi int) ([]byte, error)

	// CropPNG cuts a horizontal band [fromY, toY) in pixel rows out of a
	// rendered page and returns it re-encoded as PNG.
	CropPNG(pagePNG []byte, fromY, toY int) ([]byte, error)
}
