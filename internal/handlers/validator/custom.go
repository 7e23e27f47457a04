package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var extensionRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

func oneOfValidator(values ...string) func(fl validator.FieldLevel) bool {
	return func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		for _, v := range values {
			if val == v {
				return true
			}
		}
		return false
	}
}

func extensionsValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().([]string)
	if !ok || len(val) == 0 {
		return false
	}
	for _, ext := range val {
		if !extensionRegex.MatchString(ext) {
			return false
		}
	}
	return true
}

// recordsValidator accepts a non-empty list of non-empty objects.
func recordsValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().([]map[string]any)
	if !ok || len(val) == 0 {
		return false
	}
	for _, r := range val {
		if len(r) == 0 {
			return false
		}
	}
	return true
}
