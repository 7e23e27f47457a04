package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationRule struct {
	Rule func(v *validator.Validate)
}

// Validator is a wrapper around the actual validator
// It sets up the validator and extract the rule error message from the underlying error
type Validator struct {
	validator *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validator: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *Validator) Register(rules ...ValidationRule) *Validator {
	for _, validationRule := range rules {
		validationRule.Rule(v.validator)
	}
	return v
}

func (v *Validator) Struct(s any) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed on %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return NewErrInvalidInput("%s", strings.Join(msgs, "; "))
}
