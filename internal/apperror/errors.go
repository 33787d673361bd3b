// Package apperror holds the error taxonomy shared by the loyalty usecases and
// its mapping onto gRPC and HTTP responses.
package apperror

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const Domain = "loyalty.omnipos"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidInput   = errors.New("invalid input")
	ErrPersistence    = errors.New("persistence error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrQRNotReady     = errors.New("qr code not yet ready")
	ErrInvalidQRToken = errors.New("invalid qr token")
)

// Persistence wraps a store failure as ErrPersistence while keeping the cause
// in the message. Context deadline errors are folded in as well.
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &persistenceError{cause: errors.Wrap(err, msg)}
}

type persistenceError struct {
	cause error
}

func (e *persistenceError) Error() string { return ErrPersistence.Error() + ": " + e.cause.Error() }
func (e *persistenceError) Unwrap() error { return e.cause }
func (e *persistenceError) Is(target error) bool {
	return target == ErrPersistence
}

type kind struct {
	err    error
	code   codes.Code
	http   int
	reason string
}

var kinds = []kind{
	{ErrNotFound, codes.NotFound, http.StatusNotFound, "NOT_FOUND"},
	{ErrInvalidAmount, codes.InvalidArgument, http.StatusBadRequest, "INVALID_AMOUNT"},
	{ErrInvalidInput, codes.InvalidArgument, http.StatusBadRequest, "INVALID_INPUT"},
	{ErrInvalidQRToken, codes.InvalidArgument, http.StatusBadRequest, "INVALID_QR_TOKEN"},
	{ErrQRNotReady, codes.FailedPrecondition, http.StatusConflict, "QR_NOT_READY"},
	{ErrConflict, codes.AlreadyExists, http.StatusConflict, "CONFLICT"},
	{ErrUnauthorized, codes.Unauthenticated, http.StatusUnauthorized, "UNAUTHORIZED"},
	{ErrForbidden, codes.PermissionDenied, http.StatusForbidden, "FORBIDDEN"},
	{ErrPersistence, codes.Unavailable, http.StatusServiceUnavailable, "PERSISTENCE_ERROR"},
}

func classify(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kind{ErrPersistence, codes.DeadlineExceeded, http.StatusGatewayTimeout, "PERSISTENCE_TIMEOUT"}, true
	}
	return kind{}, false
}

// Reason returns the machine readable reason for err, or "INTERNAL".
func Reason(err error) string {
	if k, ok := classify(err); ok {
		return k.reason
	}
	return "INTERNAL"
}

// GRPCStatus converts err into a status error carrying an ErrorInfo detail.
// Unknown errors become codes.Internal without leaking their message.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	k, ok := classify(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}

	st := status.New(k.code, k.err.Error())
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: k.reason, Domain: Domain}); derr == nil {
		st = detailed
	}
	return st.Err()
}

// HTTPStatus returns the status code and public message for err.
func HTTPStatus(err error) (int, string) {
	if k, ok := classify(err); ok {
		return k.http, k.err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}
