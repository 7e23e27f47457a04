package workflow

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable is returned when the run endpoint answers with a
// non-2xx status outside the handled business codes.
type ErrServiceUnavailable struct {
	error
	StatusCode int
}

func NewErrServiceUnavailable(statusCode int, body string) *ErrServiceUnavailable {
	return &ErrServiceUnavailable{
		error:      fmt.Errorf("workflow service returned status %d: %s", statusCode, body),
		StatusCode: statusCode,
	}
}

// ErrBusiness is a handled rejection of the run request. It fails the attempt
// without being a transport failure.
type ErrBusiness struct {
	error
	StatusCode int
}

func NewErrBusiness(statusCode int, body string) *ErrBusiness {
	return &ErrBusiness{
		error:      fmt.Errorf("workflow run rejected with status %d: %s", statusCode, body),
		StatusCode: statusCode,
	}
}

type ErrDownload struct {
	error
}

func NewErrDownload(url string, statusCode int) *ErrDownload {
	return &ErrDownload{fmt.Errorf("downloading %s returned status %d", url, statusCode)}
}

// ErrNoOutput means the service answered but no usable payload was found.
type ErrNoOutput struct {
	error
}

func NewErrNoOutput(reason string) *ErrNoOutput {
	return &ErrNoOutput{fmt.Errorf("no workflow output: %s", reason)}
}

func IsNoOutput(err error) bool {
	var e *ErrNoOutput
	return errors.As(err, &e)
}
