package service

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/apperr"
)

// connectError maps a ledger error to a Connect error by its kind.
func connectError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return connect.NewError(connect.CodeInvalidArgument, err)
	case apperr.KindNotFound:
		return connect.NewError(connect.CodeNotFound, err)
	case apperr.KindForbidden:
		return connect.NewError(connect.CodePermissionDenied, err)
	case apperr.KindConflict:
		return connect.NewError(connect.CodeAlreadyExists, err)
	case apperr.KindProcessing:
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		// Storage details stay in the server log.
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}
