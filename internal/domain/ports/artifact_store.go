package ports

import "context"

// ArtifactStore owns the on-disk layout of run artifacts. Uploads live
// under {uploadRoot}/{tenantId}/{runId}/ and stage outputs under
// {outputRoot}/{tenantId}/{runId}/. All workers share the same roots, so
// the absolute paths it hands out are valid across processes.
type ArtifactStore interface {
	// UploadDir returns the directory holding a run's source PDFs.
	UploadDir(tenantID, runID string) string

	// OutputDir returns the root of a run's stage outputs.
	OutputDir(tenantID, runID string) string

	// OutputPath joins path parts under the run's output root.
	OutputPath(tenantID, runID string, parts ...string) string

	// SaveUpload persists one uploaded document and returns its path.
	SaveUpload(ctx context.Context, tenantID, runID, filename string, content []byte) (string, error)

	// CopyUpload copies a document from one run's upload directory to
	// another's, creating the destination directory as needed.
	CopyUpload(ctx context.Context, tenantID, srcRunID, dstRunID, filename string) (string, error)

	// ListUploads returns the absolute paths of a run's uploaded
	// documents sorted by filename.
	ListUploads(ctx context.Context, tenantID, runID string) ([]string, error)

	// WriteFile writes data to an absolute path, creating parent
	// directories. Writes are atomic per file.
	WriteFile(ctx context.Context, path string, data []byte) error

	// ReadFile reads an absolute path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// RemovePath deletes a file or directory tree. Missing paths are
	// not an error.
	RemovePath(ctx context.Context, path string) error

	// RemoveRunOutputs deletes a run's output directory, preserving
	// its uploads. Used by restarts.
	RemoveRunOutputs(ctx context.Context, tenantID, runID string) error

	// RemoveRunData deletes everything the run owns on disk.
	RemoveRunData(ctx context.Context, tenantID, runID string) error
}
