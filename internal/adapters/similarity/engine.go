// Package similarity adapts the external grouping engine to the domain
// port. The engine is a black box: it reads a question array from one
// file, writes the same array with similarity_group_id filled in to
// another, and reports pass progress on its standard streams.
package similarity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
)

// Engine shells out to the grouping binary
type Engine struct {
	binaryPath string
	timeout    time.Duration
}

var _ ports.SimilarityEngine = (*Engine)(nil)

// NewEngine creates an engine around the given binary. An empty path
// resolves "similarity-engine" through PATH; timeout <= 0 disables the
// deadline.
func NewEngine(binaryPath string, timeout time.Duration) *Engine {
	if binaryPath == "" {
		binaryPath = "similarity-engine"
	}
	return &Engine{binaryPath: binaryPath, timeout: timeout}
}

// Group runs one grouping pass. The subprocess gets a deadline so a hung
// model load cannot pin the stage lease forever; its output streams are
// forwarded line by line into the run log.
func (e *Engine) Group(ctx context.Context, inputPath, outputPath string, opts ports.GroupingOptions) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.binaryPath, buildArgs(inputPath, outputPath, opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start similarity engine: %w", err)
	}

	logger := common.RunLoggerFromContext(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, func(line string) {
			logger.Log("info", line, map[string]interface{}{"source": "similarity-engine"})
		})
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, func(line string) {
			logger.Log("warning", line, map[string]interface{}{"source": "similarity-engine", "stream": "stderr"})
		})
	}()

	// Drain both pipes before Wait closes them
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("similarity engine timed out after %s", e.timeout)
		}
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("similarity engine exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("similarity engine failed: %w", err)
	}
	return nil
}

// buildArgs assembles the engine's argv. Zero-valued thresholds are
// omitted so the engine applies its own defaults.
func buildArgs(inputPath, outputPath string, opts ports.GroupingOptions) []string {
	args := []string{"-i", inputPath, "-o", outputPath}
	if opts.CrossEncoderThreshold > 0 {
		args = append(args,
			"--cross-encoder-threshold",
			strconv.FormatFloat(opts.CrossEncoderThreshold, 'f', -1, 64))
	}
	if opts.RefineThreshold > 0 {
		args = append(args, "--refine-threshold", strconv.Itoa(opts.RefineThreshold))
	}
	return args
}

// streamLines forwards non-empty lines from r to emit. Lines longer than
// the scanner default are tolerated up to 1 MiB.
func streamLines(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			emit(line)
		}
	}
}
