package grpcsvc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// statusFromError переводит доменную ошибку в gRPC-статус.
// Неизвестные ошибки не раскрываются клиенту.
func statusFromError(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}

	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrForbidden):
		code = codes.PermissionDenied
	case domain.IsUnauthorized(err):
		code = codes.Unauthenticated
	case domain.IsNotFound(err):
		code = codes.NotFound
	case domain.IsInvalidState(err):
		code = codes.FailedPrecondition
	case domain.IsValidation(err):
		code = codes.InvalidArgument
	case domain.IsConflict(err):
		code = codes.Aborted
	case errors.Is(err, domain.ErrProductNameTaken):
		code = codes.AlreadyExists
	}
	if code == codes.Internal {
		return status.New(code, "internal error")
	}
	return status.New(code, err.Error())
}
