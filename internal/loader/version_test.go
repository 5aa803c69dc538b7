package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/ddfserver/internal/catalog"
)

func TestAssignVersionFirstImport(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	got, err := AssignVersion("", now)
	require.NoError(t, err)
	assert.Equal(t, "2026080301", got)
}

func TestAssignVersionSameDayIncrementsSuffix(t *testing.T) {
	now := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	got, err := AssignVersion("2026080301", now)
	require.NoError(t, err)
	assert.Equal(t, "2026080302", got)
}

func TestAssignVersionEarlierDayIncrementsTrailingDigits(t *testing.T) {
	now := time.Date(2026, 8, 4, 9, 0, 0, 0, time.UTC)
	got, err := AssignVersion("2026080305", now)
	require.NoError(t, err)
	assert.Equal(t, "2026080306", got)
}

func TestAssignVersionNonDateSchemeIncrementsTrailingDigits(t *testing.T) {
	now := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	got, err := AssignVersion("release-07", now)
	require.NoError(t, err)
	assert.Equal(t, "release-08", got)
}

func TestAssignVersionNoTrailingDigitsAppendsOne(t *testing.T) {
	now := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	got, err := AssignVersion("stable", now)
	require.NoError(t, err)
	assert.Equal(t, "stable1", got)
}

func TestValidateVersionInputRejectsLatest(t *testing.T) {
	assert.Error(t, ValidateVersionInput(catalog.Latest))
}

func TestValidateVersionInputAcceptsLiteral(t *testing.T) {
	assert.NoError(t, ValidateVersionInput("2026080301"))
}
