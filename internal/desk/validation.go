package desk

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type decisionAnswers struct {
	Question1 string `form:"question1" validate:"required"`
	Question2 string `form:"question2" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateDecision returns one message per invalid field; an empty map means the form may be submitted.
func validateDecision(v *validator.Validate, form DecisionForm) map[string]string {
	answers := decisionAnswers{
		Question1: form.Value(FieldQuestion1),
		Question2: form.Value(FieldQuestion2),
	}
	errs := make(map[string]string)
	err := v.Struct(answers)
	if err == nil {
		return errs
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs["form"] = err.Error()
		return errs
	}
	for _, fieldErr := range fieldErrs {
		errs[fieldErr.Field()] = fieldMessage(fieldErr)
	}
	return errs
}

func fieldMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return RequiredMessage
	default:
		return fieldErr.Error()
	}
}

// checkFilter rejects dropdown values outside the catalog. Dates are accepted as entered.
func checkFilter(v *validator.Validate, catalog Catalog, field, value string) error {
	if _, ok := (FilterSelection{}).Get(field); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if !isDropdownField(field) {
		return nil
	}
	if err := v.Var(value, "omitempty,oneof="+strings.Join(catalog.Values(), " ")); err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidOption, field, value)
	}
	return nil
}

func checkFilters(v *validator.Validate, catalog Catalog, filters FilterSelection) error {
	for _, field := range []string{FieldDropdown1, FieldDropdown2, FieldDropdown3} {
		value, _ := filters.Get(field)
		if err := checkFilter(v, catalog, field, value); err != nil {
			return err
		}
	}
	return nil
}
