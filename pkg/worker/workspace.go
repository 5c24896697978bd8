package worker

import (
	"os"
	"path/filepath"
)

// newWorkspace creates a scoped temporary directory for one job under
// baseDir, and returns a cleanup func that removes it. The caller must
// defer cleanup() immediately so the workspace is reclaimed on every exit
// path, including panics during the pipeline run (spec §4.H).
func newWorkspace(baseDir, jobID string) (dir string, cleanup func(), err error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", func() {}, err
	}
	dir, err = os.MkdirTemp(baseDir, "job-"+jobID+"-")
	if err != nil {
		return "", func() {}, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// inputPath and outputPath are the workspace's fixed file names for the
// downloaded source and the tool's primary output artifact. Preserving the
// original extension lets the media tool's format auto-detection work off
// the file name rather than relying on content sniffing.
func inputPath(workspace, ext string) string  { return filepath.Join(workspace, "input"+ext) }
func outputPath(workspace, ext string) string { return filepath.Join(workspace, "output"+ext) }
