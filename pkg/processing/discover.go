package processing

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/systemstart/shipyard/pkg/api"
)

// definitionFilenames are the declaration files discovery looks for.
var definitionFilenames = []string{".space.kts", ".shipyard.yaml"}

// DiscoverDefinitions walks root looking for declaration files up to
// maxDepth. A maxDepth of -1 means unlimited. 0 means only root itself.
// Results are sorted by path depth (parents before children).
func DiscoverDefinitions(root string, maxDepth int) ([]*api.Definition, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	paths, err := collectDefinitionPaths(absRoot, maxDepth)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(paths, func(a, b string) int {
		return pathDepth(a) - pathDepth(b)
	})

	return loadAll(paths)
}

func collectDefinitionPaths(absRoot string, maxDepth int) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk error at %s: %w", path, err)
		}

		if d.IsDir() {
			if path != absRoot && d.Name() == ".git" {
				return filepath.SkipDir
			}
			if maxDepth >= 0 {
				rel, relErr := filepath.Rel(absRoot, path)
				if relErr != nil {
					return fmt.Errorf("computing relative path for %s: %w", path, relErr)
				}
				if pathDepth(rel) > maxDepth {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if slices.Contains(definitionFilenames, d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory tree: %w", err)
	}
	return paths, nil
}

func loadAll(paths []string) ([]*api.Definition, error) {
	defs := make([]*api.Definition, 0, len(paths))
	for _, p := range paths {
		def, err := api.LoadDefinition(p)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", p, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func pathDepth(p string) int {
	if p == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(p), "/") + 1
}
