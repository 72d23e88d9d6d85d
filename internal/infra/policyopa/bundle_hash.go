package policyopa

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"keystack/internal/infra/canonical"
)

type bundleHashPayload struct {
	Files []bundleHashFile `json:"files"`
}

type bundleHashFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

func ComputeBundleHashFromPath(bundlePath string) (string, error) {
	return ComputeBundleHashFromFS(os.DirFS(bundlePath), ".")
}

// ComputeBundleHashFromFS hashes the rego and data files under root. Paths
// are taken relative to root so the same bundle hashes equally wherever it
// is stored.
func ComputeBundleHashFromFS(fsys fs.FS, root string) (string, error) {
	files, err := collectBundleFiles(fsys, root)
	if err != nil {
		return "", err
	}
	return canonical.Digest(bundleHashPayload{Files: files})
}

func collectBundleFiles(fsys fs.FS, root string) ([]bundleHashFile, error) {
	files := []bundleHashFile{}
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if shouldSkipDir(path) {
				return fs.SkipDir
			}
			return nil
		}
		if shouldSkipFile(path) || !isNormativeFile(path) {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(path), strings.TrimSuffix(root, "/")+"/")
		files = append(files, bundleHashFile{
			Path:   rel,
			SHA256: canonical.DigestBytes(data),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func shouldSkipDir(path string) bool {
	base := filepath.Base(path)
	return base == "vendor" || strings.HasPrefix(base, ".")
}

func shouldSkipFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	return strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}

func isNormativeFile(path string) bool {
	base := filepath.Base(path)
	if base == "data.json" {
		return true
	}
	return strings.HasSuffix(base, ".rego") && !strings.HasSuffix(base, "_test.rego")
}
