package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := New(KindBelowFloorRate, "rate 0.03 is below floor 0.05")
	wrapped := fmt.Errorf("set rate: %w", err)

	assert.True(t, errors.Is(wrapped, BelowFloorRate))
	assert.False(t, errors.Is(wrapped, Forbidden))
	assert.Equal(t, KindBelowFloorRate, KindOf(wrapped))
}

func TestError_WithCopiesDetails(t *testing.T) {
	base := New(KindBelowFloorRate, "x").With("rate", "0.03")
	ext := base.With("floor", "0.05")

	assert.Len(t, base.Details, 1)
	assert.Equal(t, "0.05", ext.Details["floor"])
	assert.Equal(t, "0.03", ext.Details["rate"])
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}
