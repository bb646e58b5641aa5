package steps

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const dockerignoreFilename = ".dockerignore"

type ignoreRule struct {
	pattern string
	negate  bool
}

type ignoreRules []ignoreRule

// loadDockerignore reads the .dockerignore of a build context. A missing
// file yields no rules.
func loadDockerignore(dir string) (ignoreRules, error) {
	f, err := os.Open(filepath.Join(dir, dockerignoreFilename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dockerignoreFilename, err)
	}
	defer f.Close()

	var rules ignoreRules
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = strings.TrimSpace(line[1:])
		}
		line = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(line)), "/")
		if !doublestar.ValidatePattern(line) {
			return nil, fmt.Errorf("%s: invalid pattern %q", dockerignoreFilename, line)
		}
		rule.pattern = line
		rules = append(rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", dockerignoreFilename, err)
	}
	return rules, nil
}

// excluded reports whether rel (slash separated) is ignored. The last
// matching rule wins; a pattern also matches everything below it.
func (r ignoreRules) excluded(rel string) bool {
	excluded := false
	for _, rule := range r {
		if matchIgnore(rule.pattern, rel) {
			excluded = !rule.negate
		}
	}
	return excluded
}

func (r ignoreRules) hasNegations() bool {
	for _, rule := range r {
		if rule.negate {
			return true
		}
	}
	return false
}

func matchIgnore(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	ok, _ := doublestar.Match(pattern+"/**", rel)
	return ok
}

// buildContext streams dir as a tar archive honouring .dockerignore. The
// Dockerfile and .dockerignore are always included.
func buildContext(dir, dockerfile string) (io.ReadCloser, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("build context %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build context %q is not a directory", dir)
	}

	rules, err := loadDockerignore(dir)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archiveContext(dir, dockerfile, rules, pw))
	}()
	return pr, nil
}

func archiveContext(dir, dockerfile string, rules ignoreRules, w io.Writer) error {
	tw := tar.NewWriter(w)
	keep := map[string]bool{filepath.ToSlash(dockerfile): true, dockerignoreFilename: true}
	descend := rules.hasNegations()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !keep[rel] && rules.excluded(rel) {
			if d.IsDir() && !descend {
				return filepath.SkipDir
			}
			return nil
		}
		return addToArchive(tw, path, rel, d)
	})
	if err != nil {
		return fmt.Errorf("archiving build context: %w", err)
	}
	return tw.Close()
}

func addToArchive(tw *tar.Writer, path, rel string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = rel
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
