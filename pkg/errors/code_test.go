package errors_test

import (
	"fmt"
	"testing"

	pkgerrors "github.com/raffel-dev/raffel/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCode_HTTPStatusTable(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.NotFound:           404,
		pkgerrors.ValidationError:    400,
		pkgerrors.InvalidArgument:    400,
		pkgerrors.Unauthenticated:    401,
		pkgerrors.PermissionDenied:   403,
		pkgerrors.AlreadyExists:      409,
		pkgerrors.FailedPrecondition: 412,
		pkgerrors.RateLimited:        429,
		pkgerrors.ResourceExhausted:  429,
		pkgerrors.DeadlineExceeded:   504,
		pkgerrors.Unimplemented:      501,
		pkgerrors.Unavailable:        503,
		pkgerrors.Cancelled:          499,
		pkgerrors.ParseError:         400,
		pkgerrors.InternalError:      500,
	}

	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), "code %s", code)
	}
}

func TestCode_JSONRPCCodeTable(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.NotFound:           -32601,
		pkgerrors.ValidationError:    -32602,
		pkgerrors.InvalidArgument:    -32602,
		pkgerrors.Unauthenticated:    -32002,
		pkgerrors.PermissionDenied:   -32003,
		pkgerrors.AlreadyExists:      -32004,
		pkgerrors.FailedPrecondition: -32603,
		pkgerrors.RateLimited:        -32005,
		pkgerrors.ResourceExhausted:  -32005,
		pkgerrors.DeadlineExceeded:    -32603,
		pkgerrors.Unimplemented:      -32601,
		pkgerrors.Unavailable:        -32000,
		pkgerrors.Cancelled:          -32603,
		pkgerrors.ParseError:         -32700,
		pkgerrors.InternalError:      -32603,
	}

	for code, want := range cases {
		assert.Equal(t, want, code.JSONRPCCode(), "code %s", code)
	}
}

func TestWrap_CarriesCodeAndContext(t *testing.T) {
	err := pkgerrors.Wrap(pkgerrors.NotFound, "router", "Dispatch", fmt.Errorf("no such procedure"))

	assert.Equal(t, pkgerrors.NotFound, err.Code)
	assert.Equal(t, "router", err.Component)
	assert.Equal(t, "[router] Dispatch: no such procedure", err.Error())
}

func TestWrap_WithDetails(t *testing.T) {
	err := pkgerrors.Wrap(pkgerrors.ValidationError, "router", "Dispatch", fmt.Errorf("bad input")).
		WithDetails(map[string]any{"field": "name"})

	assert.Equal(t, map[string]any{"field": "name"}, err.Details)
}
