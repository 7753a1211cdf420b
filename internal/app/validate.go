package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into a 400 with a field -> rule map.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid(err.Error(), nil)
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return invalid(fmt.Sprintf("%s is invalid", fieldErrs[0].Field()), details)
}

// validateField checks a single value against tag and names it field.
func validateField(field string, value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		var fieldErrs validator.ValidationErrors
		rule := tag
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			rule = fieldErrs[0].Tag()
		}
		return invalid(fmt.Sprintf("%s is invalid", field), map[string]string{field: rule})
	}
	return nil
}
