// SPDX-License-Identifier: Apache-2.0

// Package compose orders and deduplicates the SQL fragment files that
// back a manifest's "include"/"first"/"last" directives into the three
// ordered lists the loader materializes a descriptor's fragment sequence
// from.
package compose

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pgmakeschemas/pgms/pkg/fsguard"
)

// FragmentType tags where a fragment came from in the composed order.
type FragmentType string

const (
	First   FragmentType = "first"
	Regular FragmentType = "regular"
	Last    FragmentType = "last"
)

// ResolvedFile is a single fragment file discovered by Compose, tagged
// with its place in the ordering.
type ResolvedFile struct {
	Path string
	Type FragmentType
}

// FilterFunc decides whether a directory entry name is a fragment file.
type FilterFunc func(name string) bool

// IsSQLFile is the default FilterFunc: plain, non-hidden *.sql files.
func IsSQLFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".sql")
}

var refPattern = regexp.MustCompile(`^\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// ResolveInclude resolves a `$NAME` or `${NAME}` prefix against
// includeRefMap, substituting it for the mapped absolute directory.
// Strings without such a prefix are returned unchanged.
func ResolveInclude(ref string, includeRefMap map[string]string) (string, error) {
	m := refPattern.FindStringSubmatchIndex(ref)
	if m == nil {
		return ref, nil
	}

	name := ref[m[2]:m[3]]
	base, ok := includeRefMap[name]
	if !ok {
		return "", UndefinedRefError{Name: name}
	}

	rest := ref[m[1]:]
	return filepath.Join(base, rest), nil
}

// Compose resolves `include` into an ordered set of search paths
// (baseDir is always scanned last), scans each search path for files
// matching filter, and reorders the result according to `first`/`last`.
// Every resolved search path and fragment is checked against allowList.
func Compose(baseDir string, include, first, last []string, filter FilterFunc, includeRefMap map[string]string, allowList []string) (firstList, regularList, lastList []ResolvedFile, err error) {
	if filter == nil {
		filter = IsSQLFile
	}

	searchPaths, err := resolveSearchPaths(baseDir, include, includeRefMap, allowList)
	if err != nil {
		return nil, nil, nil, err
	}

	seen := make(map[string]bool)
	for _, sp := range searchPaths {
		entries, err := scanDir(sp, allowList)
		if err != nil {
			return nil, nil, nil, err
		}

		for _, name := range entries {
			if !filter(name) {
				continue
			}

			resolvedPath := filepath.Clean(filepath.Join(sp, name))
			if seen[resolvedPath] {
				return nil, nil, nil, DuplicateFragmentError{Path: resolvedPath}
			}
			seen[resolvedPath] = true

			regularList = append(regularList, ResolvedFile{Path: resolvedPath, Type: Regular})
		}
	}

	regularList, firstList, err = extractOrder(regularList, searchPaths, first, includeRefMap, First)
	if err != nil {
		return nil, nil, nil, err
	}

	regularList, lastList, err = extractOrder(regularList, searchPaths, last, includeRefMap, Last)
	if err != nil {
		return nil, nil, nil, err
	}

	return firstList, regularList, lastList, nil
}

// ComposeDirs is Compose's counterpart for child manifests that live one
// directory down rather than as sibling SQL files: each search path is
// scanned for subdirectories containing any of manifestFiles, and the
// resulting directory list is reordered by first/last the same way
// Compose reorders fragment files. Callers owning several child kinds
// (a cluster's schemas/settings/migrations directories) scan once with
// all their manifest names, so a first/last entry naming a child of any
// kind still resolves. Entries are ResolvedFile with Path set to the
// child directory (not the manifest file inside it).
func ComposeDirs(baseDir string, include, first, last []string, manifestFiles []string, includeRefMap map[string]string, allowList []string) (firstList, regularList, lastList []ResolvedFile, err error) {
	searchPaths, err := resolveSearchPaths(baseDir, include, includeRefMap, allowList)
	if err != nil {
		return nil, nil, nil, err
	}

	seen := make(map[string]bool)
	for _, sp := range searchPaths {
		entries, err := scanSubdirs(sp, manifestFiles, allowList)
		if err != nil {
			return nil, nil, nil, err
		}

		for _, name := range entries {
			resolvedPath := filepath.Clean(filepath.Join(sp, name))
			if seen[resolvedPath] {
				return nil, nil, nil, DuplicateFragmentError{Path: resolvedPath}
			}
			seen[resolvedPath] = true

			regularList = append(regularList, ResolvedFile{Path: resolvedPath, Type: Regular})
		}
	}

	regularList, firstList, err = extractOrder(regularList, searchPaths, first, includeRefMap, First)
	if err != nil {
		return nil, nil, nil, err
	}

	regularList, lastList, err = extractOrder(regularList, searchPaths, last, includeRefMap, Last)
	if err != nil {
		return nil, nil, nil, err
	}

	return firstList, regularList, lastList, nil
}

func scanSubdirs(dir string, manifestFiles []string, allowList []string) ([]string, error) {
	if _, err := fsguard.Resolve(dir, ".", allowList); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, mf := range manifestFiles {
			if _, err := os.Stat(filepath.Join(dir, e.Name(), mf)); err == nil {
				names = append(names, e.Name())
				break
			}
		}
	}
	return names, nil
}

func resolveSearchPaths(baseDir string, include []string, includeRefMap map[string]string, allowList []string) ([]string, error) {
	var paths []string
	for _, inc := range include {
		resolved, err := ResolveInclude(inc, includeRefMap)
		if err != nil {
			return nil, err
		}

		var dir string
		if filepath.IsAbs(resolved) {
			dir = filepath.Clean(resolved)
		} else {
			dir = filepath.Clean(filepath.Join(baseDir, resolved))
		}

		if _, err := fsguard.Resolve(baseDir, dir, allowList); err != nil {
			return nil, err
		}

		paths = append(paths, dir)
	}

	paths = append(paths, filepath.Clean(baseDir))
	return paths, nil
}

func scanDir(dir string, allowList []string) ([]string, error) {
	if _, err := fsguard.Resolve(dir, ".", allowList); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	// os.ReadDir already returns entries sorted by filename.
	return names, nil
}

// extractOrder removes from regularList, in the order names are given,
// the first matching fragment found under any search path, and returns
// the extracted fragments retagged as fragType.
func extractOrder(regularList []ResolvedFile, searchPaths []string, names []string, includeRefMap map[string]string, fragType FragmentType) ([]ResolvedFile, []ResolvedFile, error) {
	var extracted []ResolvedFile

	for _, name := range names {
		resolvedName, err := ResolveInclude(name, includeRefMap)
		if err != nil {
			return nil, nil, err
		}

		found := false
		for _, sp := range searchPaths {
			var candidate string
			if filepath.IsAbs(resolvedName) {
				candidate = filepath.Clean(resolvedName)
			} else {
				candidate = filepath.Clean(filepath.Join(sp, resolvedName))
			}

			for i, f := range regularList {
				if f.Path == candidate {
					extracted = append(extracted, ResolvedFile{Path: f.Path, Type: fragType})
					regularList = append(regularList[:i], regularList[i+1:]...)
					found = true
					break
				}
			}
			if found {
				break
			}
		}

		if !found {
			return nil, nil, UnusedOrderError{Name: name}
		}
	}

	return regularList, extracted, nil
}
