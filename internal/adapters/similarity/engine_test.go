package similarity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
)

func TestBuildArgs(t *testing.T) {
	args := buildArgs("/in/corpus.json", "/out/grouped.json", ports.GroupingOptions{
		CrossEncoderThreshold: 0.7,
		RefineThreshold:       10,
	})

	assert.Equal(t, []string{
		"-i", "/in/corpus.json",
		"-o", "/out/grouped.json",
		"--cross-encoder-threshold", "0.7",
		"--refine-threshold", "10",
	}, args)
}

func TestBuildArgs_OmitsZeroThresholds(t *testing.T) {
	args := buildArgs("in.json", "out.json", ports.GroupingOptions{})

	assert.Equal(t, []string{"-i", "in.json", "-o", "out.json"}, args)
}

func TestStreamLines(t *testing.T) {
	input := "loading model\n\n  \nclustering pass 1\nrefining\n"

	var lines []string
	streamLines(strings.NewReader(input), func(line string) {
		lines = append(lines, line)
	})

	assert.Equal(t, []string{"loading model", "clustering pass 1", "refining"}, lines)
}
