//go:build !integration

package sizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"render-credit-platform/internal/domain/model"
)

func TestTextSizer_Characters(t *testing.T) {
	s := NewTextSizer("")
	n, err := s.Measure(model.MeasureCharacters, "héllo wörld")
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)
}

func TestTextSizer_RejectsNonTextual(t *testing.T) {
	s := NewTextSizer("")
	_, err := s.Measure(model.MeasureSeconds, "x")
	assert.Error(t, err)
}
