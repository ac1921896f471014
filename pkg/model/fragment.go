// SPDX-License-Identifier: Apache-2.0

package model

import (
	"io"

	"github.com/pgmakeschemas/pgms/pkg/compose"
	"github.com/pgmakeschemas/pgms/pkg/fsguard"
)

// FragmentKind tags where a fragment's SQL text came from.
type FragmentKind string

const (
	FragmentFirst   FragmentKind = "first"
	FragmentRegular FragmentKind = "regular"
	FragmentInline  FragmentKind = "inline"
	FragmentLast    FragmentKind = "last"
)

// FragmentMeta is the diagnostic record attached to every fragment a
// descriptor yields: its source path (empty for inline SQL) and kind.
type FragmentMeta struct {
	FilePath     string
	FilePathType FragmentKind
}

// LazyFragment is one element of a descriptor's SQL sequence. Its content
// is not read until SQL is called, so a long fragment sequence can be
// streamed to a sink without buffering the whole corpus in memory.
type LazyFragment struct {
	Meta      FragmentMeta
	path      string
	inline    string
	allowList []string
}

// SQL returns the fragment's text, reading the backing file through
// pkg/fsguard on every call for non-inline fragments (nothing is cached).
func (f LazyFragment) SQL() (string, error) {
	if f.path == "" {
		return f.inline, nil
	}

	rc, err := fsguard.Open(f.path, f.allowList)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// FragmentSeq is the ordered (first-files, regular-files, inline-sql,
// last-files) sequence shared by every descriptor that carries SQL.
type FragmentSeq struct {
	first, regular, last []compose.ResolvedFile
	inline               *string
	allowList            []string
}

func newFragmentSeq(first, regular, last []compose.ResolvedFile, inline *string, allowList []string) FragmentSeq {
	return FragmentSeq{first: first, regular: regular, last: last, inline: inline, allowList: allowList}
}

// WithText returns a copy of f whose SQL is replaced by text, keeping f's
// Meta (source path and kind) for diagnostics. Used to substitute a
// role-path-wrapped rendering of a fragment while preserving the original
// fragment's identity in error messages and verbose logging.
func (f LazyFragment) WithText(text string) LazyFragment {
	return LazyFragment{Meta: f.Meta, inline: text}
}

// NewInlineFragmentSeq builds a FragmentSeq holding a single inline SQL
// string, with no backing files. Used for migration manifests in inline
// form and by tests that need a fragment sequence without a filesystem.
func NewInlineFragmentSeq(sql string) FragmentSeq {
	return newFragmentSeq(nil, nil, nil, &sql, nil)
}

// Fragments materializes the full ordered sequence of lazy fragments:
// first_list, then regular_list, then inline SQL (if present), then
// last_list. Content is not read until LazyFragment.SQL is called.
func (f FragmentSeq) Fragments() []LazyFragment {
	out := make([]LazyFragment, 0, len(f.first)+len(f.regular)+len(f.last)+1)

	appendResolved := func(rf compose.ResolvedFile, kind FragmentKind) {
		out = append(out, LazyFragment{
			Meta:      FragmentMeta{FilePath: rf.Path, FilePathType: kind},
			path:      rf.Path,
			allowList: f.allowList,
		})
	}

	for _, rf := range f.first {
		appendResolved(rf, FragmentFirst)
	}
	for _, rf := range f.regular {
		appendResolved(rf, FragmentRegular)
	}
	if f.inline != nil {
		out = append(out, LazyFragment{
			Meta:   FragmentMeta{FilePathType: FragmentInline},
			inline: *f.inline,
		})
	}
	for _, rf := range f.last {
		appendResolved(rf, FragmentLast)
	}

	return out
}

// IsEmpty reports whether the sequence carries neither files nor inline
// SQL, used to decide whether an optional child (init/late/safeguard) is
// present at all.
func (f FragmentSeq) IsEmpty() bool {
	return len(f.first) == 0 && len(f.regular) == 0 && len(f.last) == 0 && f.inline == nil
}
