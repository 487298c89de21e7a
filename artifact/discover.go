package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FacetDirs are the artifact subdirectories searched for facets, in order.
// The first one that exists and yields at least one facet wins.
var FacetDirs = []string{
	filepath.Join("contracts", "facets-fixed"),
	filepath.Join("contracts", "facets"),
}

// IsFacetFile reports whether a file name looks like a facet artifact.
func IsFacetFile(name string) bool {
	if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".dbg.json") {
		return false
	}
	return strings.Contains(NameFromPath(name), "Facet")
}

// Discover returns the paths of facet artifacts under root. Paths are
// visited in lexical order; when two files resolve to the same contract
// name, the first one is kept.
func Discover(root string) ([]string, error) {
	for _, sub := range FacetDirs {
		dir := filepath.Join(root, sub)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		paths, err := walkFacets(dir)
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			return paths, nil
		}
	}
	return nil, fmt.Errorf("%w under %s", ErrNoArtifacts, root)
}

func walkFacets(dir string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsFacetFile(d.Name()) {
			return nil
		}
		name := NameFromPath(path)
		if seen[name] {
			return nil
		}
		seen[name] = true
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: scan %s: %w", dir, err)
	}
	return out, nil
}

// LoadDir discovers and loads every facet artifact under root. Files that
// fail to parse are returned in skipped rather than aborting the scan; the
// result is sorted by contract name.
func LoadDir(root string) (arts []*Artifact, skipped []error, err error) {
	paths, err := Discover(root)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		a, lerr := Load(p)
		if lerr != nil {
			skipped = append(skipped, lerr)
			continue
		}
		if seen[a.ContractName] {
			continue
		}
		seen[a.ContractName] = true
		arts = append(arts, a)
	}
	if len(arts) == 0 {
		return nil, skipped, errors.Join(append([]error{fmt.Errorf("%w under %s", ErrNoArtifacts, root)}, skipped...)...)
	}
	SortByName(arts)
	return arts, skipped, nil
}

// SortByName orders artifacts by contract name, then path.
func SortByName(arts []*Artifact) {
	sort.SliceStable(arts, func(i, j int) bool {
		if arts[i].ContractName != arts[j].ContractName {
			return arts[i].ContractName < arts[j].ContractName
		}
		return arts[i].Path < arts[j].Path
	})
}
