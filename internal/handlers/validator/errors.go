package validator

import (
	"errors"
	"fmt"
)

type ErrInvalidInput struct {
	error
}

func NewErrInvalidInput(format string, args ...any) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf(format, args...)}
}

func IsInvalidInput(err error) bool {
	var e *ErrInvalidInput
	return errors.As(err, &e)
}
