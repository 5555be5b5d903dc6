package sizer

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
)

var _ adapter.Sizer = (*TextSizer)(nil)

const defaultEncoding = "cl100k_base"

// TextSizer measures prompts in characters (runes) or BPE tokens.
// The encoding is loaded on first use.
type TextSizer struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTextSizer(encoding string) *TextSizer {
	if encoding == "" {
		encoding = defaultEncoding
	}
	return &TextSizer{encoding: encoding}
}

func (s *TextSizer) Measure(measure model.SizeMeasure, text string) (int64, error) {
	switch measure {
	case model.MeasureCharacters:
		return int64(utf8.RuneCountInString(text)), nil
	case model.MeasureTokens:
		s.once.Do(func() {
			s.enc, s.err = tiktoken.GetEncoding(s.encoding)
		})
		if s.err != nil {
			return 0, fmt.Errorf("load %s encoding: %w", s.encoding, s.err)
		}
		return int64(len(s.enc.Encode(text, nil, nil))), nil
	default:
		return 0, fmt.Errorf("measure %q is not textual", measure)
	}
}
