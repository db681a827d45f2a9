package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RegisterDuplicate(t *testing.T) {
	svc := NewService("svc")
	h := func(context.Context, *Call) (any, error) { return nil, nil }

	require.NoError(t, svc.Register(1, "a", h))
	err := svc.Register(1, "b", h)
	assert.ErrorIs(t, err, ErrDuplicateMethod)

	name, ok := svc.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, "a", name)

	assert.Panics(t, func() { svc.MustRegister(1, "c", h) })
	assert.Error(t, svc.Register(2, "nil", nil))
}

func TestService_Methods(t *testing.T) {
	h := func(context.Context, *Call) (any, error) { return nil, nil }
	svc := NewService("svc").
		MustRegister(7, "g", h).
		MustRegister(3, "c", h).
		MustRegister(5, "e", h)

	assert.Equal(t, []uint16{3, 5, 7}, svc.Methods())
}

func TestService_Call(t *testing.T) {
	svc := NewService("svc")
	svc.MustRegister(1, "ok", func(_ context.Context, c *Call) (any, error) {
		return Param[int64](c, 0)
	})
	svc.MustRegister(2, "fail", func(context.Context, *Call) (any, error) {
		return nil, errors.New("nope")
	})
	svc.MustRegister(3, "panic", func(context.Context, *Call) (any, error) {
		panic("boom")
	})

	ctx := context.Background()
	v, err := svc.call(ctx, &Call{Method: 1, Params: []any{int64(7)}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = svc.call(ctx, &Call{Method: 1, Params: []any{"seven"}})
	assert.Error(t, err)

	_, err = svc.call(ctx, &Call{Method: 1})
	assert.Error(t, err)

	_, err = svc.call(ctx, &Call{Method: 2})
	assert.EqualError(t, err, "nope")

	_, err = svc.call(ctx, &Call{Method: 3})
	assert.ErrorContains(t, err, "boom")

	_, err = svc.call(ctx, &Call{Method: 4})
	assert.ErrorIs(t, err, ErrMethodNotFound)

	var nilSvc *Service
	_, err = nilSvc.call(ctx, &Call{Method: 1})
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestPipeID(t *testing.T) {
	assert.False(t, PipeID(1).Passive())
	assert.True(t, (PassiveMask | 1).Passive())
	assert.Equal(t, "80000001", (PassiveMask | 1).String())
}

func TestInterface(t *testing.T) {
	iface := NewInterface("calc").Method("add", 1).Method("sub", 2)
	assert.Equal(t, "calc", iface.Name())

	id, ok := iface.MethodID("sub")
	assert.True(t, ok)
	assert.Equal(t, uint16(2), id)

	_, ok = iface.MethodID("mul")
	assert.False(t, ok)
}
