package cli

import (
	"fmt"
	"strings"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
)

// TreeFormatter renders a batch run and its children as a tree
type TreeFormatter struct {
	useColors bool
	useEmojis bool
}

// NewTreeFormatter creates a new tree formatter
func NewTreeFormatter(useColors, useEmojis bool) *TreeFormatter {
	return &TreeFormatter{
		useColors: useColors,
		useEmojis: useEmojis,
	}
}

// FormatTree renders a parent run with its batch children
func (f *TreeFormatter) FormatTree(parent *admission.RunSummary, children []*admission.RunSummary) string {
	if parent == nil {
		return "(no run)"
	}

	var builder strings.Builder
	f.formatRun(&builder, parent, "", true, true)

	for i, child := range children {
		isLast := i == len(children)-1
		f.formatRun(&builder, child, "", isLast, false)
	}

	return builder.String()
}

// formatRun formats one run line with tree structure markers
func (f *TreeFormatter) formatRun(builder *strings.Builder, run *admission.RunSummary, prefix string, isLast bool, isRoot bool) {
	var linePrefix string
	if isRoot {
		linePrefix = ""
	} else if isLast {
		linePrefix = prefix + "└── "
	} else {
		linePrefix = prefix + "├── "
	}

	statusIcon := f.getStatusIcon(run.Status)
	statusColor := f.getStatusColor(run.Status)

	batchText := ""
	if run.BatchIndex != nil && run.TotalBatches != nil {
		batchText = fmt.Sprintf("batch %d/%d ", *run.BatchIndex, *run.TotalBatches)
	}

	stageText := ""
	if run.Status == "RUNNING" || run.Status == "PAUSED" {
		stageText = fmt.Sprintf(" @ %s", run.CurrentStage)
	}

	errorText := ""
	if run.ErrorMessage != "" {
		errorText = fmt.Sprintf(" — %s", truncate(run.ErrorMessage, 60))
	}

	line := fmt.Sprintf("%s%s %s%s [%s%s%s] %d%%%s%s\n",
		linePrefix,
		statusIcon,
		batchText,
		run.ID,
		statusColor,
		run.Status,
		f.colorReset(),
		run.Progress,
		stageText,
		errorText,
	)

	builder.WriteString(line)
}

// getStatusIcon returns a visual indicator for run status
func (f *TreeFormatter) getStatusIcon(status string) string {
	if !f.useEmojis {
		switch status {
		case "COMPLETED":
			return "[✓]"
		case "FAILED", "CANCELLED":
			return "[✗]"
		case "RUNNING":
			return "[▶]"
		case "PAUSED":
			return "[‖]"
		default:
			return "[ ]"
		}
	}

	switch status {
	case "COMPLETED":
		return "✅"
	case "FAILED", "CANCELLED":
		return "❌"
	case "RUNNING":
		return "🔄"
	case "PAUSED":
		return "⏸️"
	default:
		return "⏳"
	}
}

// getStatusColor returns ANSI color code for a run status
func (f *TreeFormatter) getStatusColor(status string) string {
	if !f.useColors {
		return ""
	}

	switch status {
	case "COMPLETED":
		return "\033[32m" // Green
	case "RUNNING":
		return "\033[33m" // Yellow
	case "FAILED", "CANCELLED":
		return "\033[31m" // Red
	default:
		return ""
	}
}

// colorReset returns ANSI reset code
func (f *TreeFormatter) colorReset() string {
	if !f.useColors {
		return ""
	}
	return "\033[0m"
}

// FormatTreeSummary creates a compact summary of a batch
func (f *TreeFormatter) FormatTreeSummary(parent *admission.RunSummary, children []*admission.RunSummary) string {
	if parent == nil {
		return "No run"
	}
	if len(children) == 0 {
		return fmt.Sprintf("Standalone run, progress=%d%%", parent.Progress)
	}

	completed := 0
	failed := 0
	for _, child := range children {
		switch child.Status {
		case "COMPLETED":
			completed++
		case "FAILED", "CANCELLED":
			failed++
		}
	}

	return fmt.Sprintf(
		"Batch: %d children (%d completed, %d failed), progress=%d%%",
		len(children), completed, failed, parent.Progress,
	)
}
