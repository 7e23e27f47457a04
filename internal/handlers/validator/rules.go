package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewConfigValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("response_mode", oneOfValidator("streaming", "blocking")),
		},
		{
			Rule: registerFn("storage_type", oneOfValidator("local", "s3")),
		},
		{
			Rule: registerFn("extensions", extensionsValidator),
		},
	}
}

func NewRecordsValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("records", recordsValidator),
		},
	}
}
