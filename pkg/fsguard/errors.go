// SPDX-License-Identifier: Apache-2.0

package fsguard

import "fmt"

// PathNotAllowedError is returned when a path does not lexically resolve
// inside any directory of the allow-list.
type PathNotAllowedError struct {
	Path      string
	AllowList []string
}

func (e PathNotAllowedError) Error() string {
	return fmt.Sprintf("path %q is not contained in any allowed directory %v", e.Path, e.AllowList)
}

// UnsafeOpenError is returned when a path could not be safely opened: the
// final path component is a symlink, or (where procfs is available) the
// opened file's identity does not match the requested path.
type UnsafeOpenError struct {
	Path string
	Err  error
}

func (e UnsafeOpenError) Unwrap() error {
	return e.Err
}

func (e UnsafeOpenError) Error() string {
	return fmt.Sprintf("unsafe open of %q: %s", e.Path, e.Err)
}
