package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/qcal/internal/calibrate"
	"github.com/samcharles93/qcal/internal/dataset"
	"github.com/samcharles93/qcal/internal/tensor"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// statusFor maps calibration failures to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, calibrate.ErrScopeActive):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, dataset.ErrInvalidDataset),
		errors.Is(err, calibrate.ErrInvalidMomentum),
		errors.Is(err, calibrate.ErrInvalidPasses),
		errors.Is(err, tensor.ErrShapeMismatch),
		errors.Is(err, tensor.ErrEmpty):
		return http.StatusBadRequest, "invalid_request_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
