package query

import (
	"context"
	"errors"
	"net/http"

	"PerpAMM/internal/errs"

	"google.golang.org/grpc/codes"
)

// ErrUnknownPool is returned when no snapshot of the pool has been
// accepted yet.
var ErrUnknownPool = errors.New("unknown pool")

// replayedError is a failure read back from the quote log.
type replayedError struct {
	kind errs.Kind
	msg  string
}

func (e *replayedError) Error() string        { return e.msg }
func (e *replayedError) ErrorKind() errs.Kind { return e.kind }

// HTTPStatus maps an error to the status the HTTP gateway answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnknownPool):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument:
		return http.StatusBadRequest
	case errs.KindInsufficientLiquidity, errs.KindOpenInterestExceeded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps an error to a gRPC status code.
func GRPCCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrUnknownPool):
		return codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument:
		return codes.InvalidArgument
	case errs.KindInsufficientLiquidity, errs.KindOpenInterestExceeded:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
