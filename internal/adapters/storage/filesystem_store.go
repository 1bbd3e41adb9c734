// Package storage implements the artifact store on a local or mounted
// filesystem shared by every worker process.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
)

// FilesystemStore lays out run artifacts under two roots:
//
//	{uploadRoot}/{tenantId}/{runId}/  source PDFs
//	{outputRoot}/{tenantId}/{runId}/  stage outputs
type FilesystemStore struct {
	uploadRoot string
	outputRoot string
}

// NewFilesystemStore creates a store rooted at the given directories.
func NewFilesystemStore(uploadRoot, outputRoot string) *FilesystemStore {
	return &FilesystemStore{
		uploadRoot: uploadRoot,
		outputRoot: outputRoot,
	}
}

// UploadDir returns the directory holding a run's source PDFs.
func (s *FilesystemStore) UploadDir(tenantID, runID string) string {
	return filepath.Join(s.uploadRoot, tenantID, runID)
}

// OutputDir returns the root of a run's stage outputs.
func (s *FilesystemStore) OutputDir(tenantID, runID string) string {
	return filepath.Join(s.outputRoot, tenantID, runID)
}

// OutputPath joins path parts under the run's output root.
func (s *FilesystemStore) OutputPath(tenantID, runID string, parts ...string) string {
	elems := append([]string{s.outputRoot, tenantID, runID}, parts...)
	return filepath.Join(elems...)
}

// SaveUpload persists one uploaded document and returns its path.
func (s *FilesystemStore) SaveUpload(ctx context.Context, tenantID, runID, filename string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.UploadDir(tenantID, runID), filename)
	if err := s.WriteFile(ctx, path, content); err != nil {
		return "", err
	}
	return path, nil
}

// CopyUpload copies a document between two runs' upload directories.
func (s *FilesystemStore) CopyUpload(ctx context.Context, tenantID, srcRunID, dstRunID, filename string) (string, error) {
	src := filepath.Join(s.UploadDir(tenantID, srcRunID), filename)
	content, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("failed to read upload %s: %w", src, err)
	}
	return s.SaveUpload(ctx, tenantID, dstRunID, filename, content)
}

// ListUploads returns the absolute paths of a run's uploads sorted by name.
func (s *FilesystemStore) ListUploads(ctx context.Context, tenantID, runID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := s.UploadDir(tenantID, runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads in %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// WriteFile writes data to path, creating parent directories. The write
// goes through a temp file and rename so readers never see partial data.
func (s *FilesystemStore) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

// ReadFile reads an absolute path.
func (s *FilesystemStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// RemovePath deletes a file or directory tree. Missing paths are fine.
func (s *FilesystemStore) RemovePath(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// RemoveRunOutputs deletes a run's output directory, preserving uploads.
func (s *FilesystemStore) RemoveRunOutputs(ctx context.Context, tenantID, runID string) error {
	return s.RemovePath(ctx, s.OutputDir(tenantID, runID))
}

// RemoveRunData deletes everything the run owns on disk.
func (s *FilesystemStore) RemoveRunData(ctx context.Context, tenantID, runID string) error {
	if err := s.RemovePath(ctx, s.UploadDir(tenantID, runID)); err != nil {
		return err
	}
	return s.RemovePath(ctx, s.OutputDir(tenantID, runID))
}

var _ ports.ArtifactStore = (*FilesystemStore)(nil)
