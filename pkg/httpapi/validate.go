package httpapi

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// validate is the shared struct-tag validator for request bodies decoded
// off the wire, ahead of the domain-level checks job.Service and
// batch.Coordinator run on locators, operations, and concurrency caps.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateBody runs v's struct tags and collapses every failing field into
// a single validation AppError, so the handler only has one error path to
// write regardless of how many fields failed.
func validateBody(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return apperrors.NewValidationError(err.Error())
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
		}
		return apperrors.NewValidationError(strings.Join(msgs, "; "))
	}
	return nil
}
