package pdf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bboxFixture = `<?xml version="1.0"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" lang="" xml:lang="">
<head>
  <title></title>
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8"/>
</head>
<body>
  <doc>
    <page width="595.276000" height="841.890000">
      <word xMin="56.692000" yMin="74.278000" xMax="94.105000" yMax="88.278000">1.</word>
      <word xMin="98.300000" yMin="74.278000" xMax="142.820000" yMax="88.278000">feladat</word>
      <word xMin="480.100000" yMin="74.278000" xMax="500.250000" yMax="88.278000">5</word>
      <word xMin="503.000000" yMin="74.278000" xMax="530.900000" yMax="88.278000">pont</word>
      <word xMin="56.692000" yMin="120.500000" xMax="90.000000" yMax="134.500000">Mennyi</word>
    </page>
    <page width="595.276000" height="841.890000">
      <word xMin="56.692000" yMin="60.000000" xMax="100.000000" yMax="74.000000">Fogalmak</word>
      <word xMin="110.000000" yMin="60.000000" xMax="120.000000" yMax="74.000000">   </word>
    </page>
  </doc>
</body>
</html>`

func TestParseBBoxDocument(t *testing.T) {
	pages, err := parseBBoxDocument(strings.NewReader(bboxFixture))
	require.NoError(t, err)
	require.Len(t, pages, 2)

	first := pages[0]
	assert.Equal(t, 1, first.Number)
	assert.InDelta(t, 595.276, first.Width, 0.001)
	assert.InDelta(t, 841.890, first.Height, 0.001)
	require.Len(t, first.Words, 5)

	assert.Equal(t, "1.", first.Words[0].Text)
	assert.InDelta(t, 56.692, first.Words[0].XMin, 0.001)
	assert.InDelta(t, 74.278, first.Words[0].YMin, 0.001)
	assert.InDelta(t, 94.105, first.Words[0].XMax, 0.001)
	assert.InDelta(t, 88.278, first.Words[0].YMax, 0.001)
	assert.Equal(t, "pont", first.Words[3].Text)

	// Whitespace-only words are dropped
	second := pages[1]
	assert.Equal(t, 2, second.Number)
	require.Len(t, second.Words, 1)
	assert.Equal(t, "Fogalmak", second.Words[0].Text)
}

func TestParseBBoxDocument_Empty(t *testing.T) {
	pages, err := parseBBoxDocument(strings.NewReader(`<html><body><doc></doc></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestParseBBoxDocument_Malformed(t *testing.T) {
	_, err := parseBBoxDocument(strings.NewReader(`<page width="10"`))
	assert.Error(t, err)
}

func TestNewPopplerToolkit_DefaultPaths(t *testing.T) {
	toolkit := NewPopplerToolkit("", "")
	assert.Equal(t, "pdftotext", toolkit.pdftotextPath)
	assert.Equal(t, "pdftoppm", toolkit.pdftoppmPath)

	custom := NewPopplerToolkit("/opt/poppler/pdftotext", "/opt/poppler/pdftoppm")
	assert.Equal(t, "/opt/poppler/pdftotext", custom.pdftotextPath)
	assert.Equal(t, "/opt/poppler/pdftoppm", custom.pdftoppmPath)
}
