package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"render-credit-platform/internal/domain"
)

type validate struct {
	v *validator.Validate
}

func newValidate() *validate {
	return &validate{v: validator.New(validator.WithRequiredStructEnabled())}
}

// decode reads a JSON body into dst and checks its validate tags.
func (v *validate) decode(r *http.Request, dst any) error {
	if err := decodeStrict(r, dst); err != nil {
		return err
	}
	if err := v.v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
