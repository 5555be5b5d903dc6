package adapter

import "render-credit-platform/internal/domain/model"

// Sizer measures prompt text in a textual size measure (characters or tokens).
type Sizer interface {
	Measure(measure model.SizeMeasure, text string) (int64, error)
}
