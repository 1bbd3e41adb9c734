package helpers

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/question"
)

// RenderCall records one RenderPage invocation.
type RenderCall struct {
	PDFPath string
	Page    int
	DPI     int
}

// MockPDFToolkit is a scripted ports.PDFToolkit. Layouts are keyed by
// the PDF's base name; rendered pages and crops are deterministic byte
// strings that encode their inputs, so tests can assert on written
// artifacts without real rasterization.
type MockPDFToolkit struct {
	mu          sync.Mutex
	layouts     map[string][]question.PageLayout
	LayoutErr   error
	RenderErr   error
	CropErr     error
	renderCalls []RenderCall
}

func NewMockPDFToolkit() *MockPDFToolkit {
	return &MockPDFToolkit{layouts: make(map[string][]question.PageLayout)}
}

// SetLayouts scripts the layout returned for a PDF by base name.
func (m *MockPDFToolkit) SetLayouts(pdfName string, layouts []question.PageLayout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layouts[pdfName] = layouts
}

func (m *MockPDFToolkit) ExtractLayout(ctx context.Context, pdfPath string) ([]question.PageLayout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LayoutErr != nil {
		return nil, m.LayoutErr
	}
	layouts, ok := m.layouts[filepath.Base(pdfPath)]
	if !ok {
		return nil, fmt.Errorf("no scripted layout for %s", filepath.Base(pdfPath))
	}
	return layouts, nil
}

func (m *MockPDFToolkit) RenderPage(ctx context.Context, pdfPath string, page int, dpi int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderCalls = append(m.renderCalls, RenderCall{PDFPath: pdfPath, Page: page, DPI: dpi})
	if m.RenderErr != nil {
		return nil, m.RenderErr
	}
	return []byte(fmt.Sprintf("png:%s:p%d@%d", filepath.Base(pdfPath), page, dpi)), nil
}

func (m *MockPDFToolkit) CropPNG(pagePNG []byte, fromY, toY int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CropErr != nil {
		return nil, m.CropErr
	}
	return []byte(fmt.Sprintf("%s:crop[%d,%d)", pagePNG, fromY, toY)), nil
}

// RenderCalls returns a copy of the recorded RenderPage invocations.
func (m *MockPDFToolkit) RenderCalls() []RenderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RenderCall, len(m.renderCalls))
	copy(out, m.renderCalls)
	return out
}

var _ ports.PDFToolkit = (*MockPDFToolkit)(nil)
