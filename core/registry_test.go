package core

import (
	"testing"

	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(ctx *Context, payload []byte) ([]byte, error) { return payload, nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterProcedure("greet", echo))

	def, err := r.Lookup("greet")
	require.NoError(t, err)
	assert.Equal(t, KindProcedure, def.Kind)
}

func TestRegistry_DuplicateNameAnyKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterProcedure("greet", echo))

	err := r.RegisterEvent("greet", func(ctx *Context, payload []byte) error { return nil })
	require.Error(t, err)

	var coded *raffelerrors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, raffelerrors.AlreadyExists, coded.Code)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("missing")

	var coded *raffelerrors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, raffelerrors.NotFound, coded.Code)
}

func TestRegistry_InvalidName(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterProcedure("1bad", echo)
	require.Error(t, err)
}

func TestRegistry_ListOrderedByInsertion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterProcedure("b", echo))
	require.NoError(t, r.RegisterProcedure("a", echo))
	require.NoError(t, r.RegisterProcedure("c", echo))

	list := r.List(KindProcedure)
	names := make([]string, len(list))
	for i, d := range list {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestRegistry_FreezeRejectsFurtherRegistration(t *testing.T) {
	r := NewRegistry()
	r.Freeze()

	err := r.RegisterProcedure("greet", echo)
	require.Error(t, err)

	var coded *raffelerrors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, raffelerrors.FailedPrecondition, coded.Code)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("users.create"))
	assert.True(t, ValidName("greet"))
	assert.False(t, ValidName("1bad"))
	assert.False(t, ValidName("bad-name"))
	assert.False(t, ValidName(".bad"))
}
