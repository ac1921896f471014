// SPDX-License-Identifier: Apache-2.0

package pgquote_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgmakeschemas/pgms/pkg/pgquote"
)

func TestDollarQuoteMinimalSuffix(t *testing.T) {
	t.Parallel()

	got := pgquote.DollarQuote("tag", "select 1;")
	assert.Equal(t, "$tag$select 1;$tag$", got)
}

func TestDollarQuoteEscalatesOnCollision(t *testing.T) {
	t.Parallel()

	value := "contains $tag$ already"
	got := pgquote.DollarQuote("tag", value)
	assert.True(t, strings.HasPrefix(got, "$tag0$"))
	assert.True(t, strings.HasSuffix(got, "$tag0$"))

	value2 := "has both $tag$ and $tag0$"
	got2 := pgquote.DollarQuote("tag", value2)
	assert.True(t, strings.HasPrefix(got2, "$tag1$"))
}

func TestNormalizeApplication(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "billing_app", pgquote.NormalizeApplication("Billing-App"))
}
