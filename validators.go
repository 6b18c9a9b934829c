package arbor

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
)

// Validator inspects a control's current value and returns an error
// object, or nil when the value passes. Validators must be pure: same
// value, same result.
type Validator func(value any) Errors

// AsyncValidator is the asynchronous counterpart. While a control's async
// validators run it reports StatusPending; a result that arrives after a
// newer mutation is discarded. The context is canceled when the run is
// superseded.
type AsyncValidator func(ctx context.Context, value any) Errors

// validate is the shared validator instance.
var validate = validator.New()

// Tag adapts a go-playground/validator tag expression into a Validator.
// Each failing tag becomes an error code keyed by the tag name, with the
// tag parameter as payload when one exists:
//
//	arbor.Tag("required,min=3")  // may yield Errors{"min": "3"}
func Tag(expr string) Validator {
	return func(value any) Errors {
		err := validate.Var(value, expr)
		if err == nil {
			return nil
		}
		errs := Errors{}
		var ferrs validator.ValidationErrors
		if errors.As(err, &ferrs) {
			for _, fe := range ferrs {
				if p := fe.Param(); p != "" {
					errs[fe.Tag()] = p
				} else {
					errs[fe.Tag()] = true
				}
			}
		} else {
			errs["invalid"] = err.Error()
		}
		return errs
	}
}

// Required fails on nil, empty, or zero values.
var Required = Tag("required")
