// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/pgmakeschemas/pgms/pkg/orchestrator"
)

// reportResults logs each host's outcome and, when any host failed,
// returns a single error summarizing which ones (exit 0 on success,
// non-zero on any host failure, per spec).
func reportResults(results []orchestrator.HostResult) error {
	var failed []string
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", r.Host, r.Err))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d host(s) failed:\n%s", len(failed), len(results), strings.Join(failed, "\n"))
}
