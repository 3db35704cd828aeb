// Package parser wraps the external document-parsing operation. The
// orchestration core treats it as a black box with a file-in/markdown-out
// contract and unbounded but finite duration.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/logger"
)

// Result describes the artifact tree produced by one parse invocation.
type Result struct {
	// OutputDir is the local directory holding the full result tree.
	OutputDir string
	// MarkdownPath is the primary markdown artifact inside OutputDir.
	MarkdownPath string
	// ContentListPath is the structured content JSON, when the backend
	// produced one.
	ContentListPath string
	// ImageDir holds extracted images referenced by the markdown, when any.
	ImageDir string
}

// Parser is the external parse operation. Implementations may run for minutes
// and must honor ctx cancellation as best-effort abandonment.
type Parser interface {
	Parse(ctx context.Context, inputPath, fileName string, opts domain.ParseOptions, outputDir string) (*Result, error)
}

// CommandParser invokes the parse tool as a subprocess. Running the operation
// in a child process keeps the executor's own concurrency primitive free to
// host it: the tool may fork subordinate workers of its own, which an
// in-process execution slot could not allow.
type CommandParser struct {
	// Command is the executable name or path, e.g. "mineru".
	Command string
}

// NewCommandParser creates a parser around the given executable.
func NewCommandParser(command string) *CommandParser {
	return &CommandParser{Command: command}
}

// Parse runs the external tool and locates its artifacts under outputDir.
func (p *CommandParser) Parse(ctx context.Context, inputPath, fileName string, opts domain.ParseOptions, outputDir string) (*Result, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}

	args := []string{
		"-p", inputPath,
		"-o", outputDir,
		"-b", opts.Backend,
		"-l", opts.Lang,
		"-m", opts.Method,
		"-f", fmt.Sprintf("%t", opts.FormulaEnable),
		"-t", fmt.Sprintf("%t", opts.TableEnable),
	}

	cmd := exec.CommandContext(ctx, p.Command, args...)
	// Subordinate workers forked by the tool inherit the output pipes; the
	// wait after a kill must not block on them holding the pipes open.
	cmd.WaitDelay = 10 * time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		logger.FromContext(ctx).WithError(err).WithField("output", truncate(string(out), 2000)).
			Error("Parse command failed")
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrParseFailure, truncate(string(out), 500), err)
	}

	return collectResult(outputDir)
}

// collectResult finds the parse artifacts inside the output tree.
func collectResult(outputDir string) (*Result, error) {
	res := &Result{OutputDir: outputDir}

	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "images" && res.ImageDir == "" {
				res.ImageDir = path
			}
			return nil
		}
		switch {
		case strings.HasSuffix(path, ".md") && res.MarkdownPath == "":
			res.MarkdownPath = path
		case strings.HasSuffix(path, "_content_list.json") && res.ContentListPath == "":
			res.ContentListPath = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}
	if res.MarkdownPath == "" {
		return nil, fmt.Errorf("%w: no markdown generated", domain.ErrParseFailure)
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
