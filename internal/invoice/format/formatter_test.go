package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber(t *testing.T) {
	issued := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	number, err := Number(DefaultNumberTemplate, issued, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-000042", number)

	number, err = Number("{YY}{MM}{DD}-{SEQ}", issued, 7)
	require.NoError(t, err)
	assert.Equal(t, "260309-7", number)

	_, err = Number("", issued, 1)
	assert.Error(t, err)

	_, err = Number(DefaultNumberTemplate, issued, 0)
	assert.Error(t, err)

	_, err = Number("INV-{BOGUS}", issued, 1)
	assert.Error(t, err)
}
