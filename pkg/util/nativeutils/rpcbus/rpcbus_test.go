package rpcbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const methodGetCandidate Method = 1

func TestCallRoundTripsThroughRegisteredHandler(t *testing.T) {
	bus := New()
	handler := make(chan Request, 1)
	require.NoError(t, bus.Register(methodGetCandidate, handler))

	go func() {
		req := <-handler
		req.RespChan <- Response{Resp: "candidate-bytes"}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := bus.Call(methodGetCandidate, NewRequest(nil), ctx)
	require.NoError(t, err)
	assert.Equal(t, "candidate-bytes", resp)
}

func TestCallPropagatesHandlerError(t *testing.T) {
	bus := New()
	handler := make(chan Request, 1)
	require.NoError(t, bus.Register(methodGetCandidate, handler))

	wantErr := assert.AnError
	go func() {
		req := <-handler
		req.RespChan <- Response{Err: wantErr}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := bus.Call(methodGetCandidate, NewRequest(nil), ctx)
	assert.ErrorIs(t, err, wantErr)
}

func TestCallWithoutHandlerReturnsErrNoHandler(t *testing.T) {
	bus := New()

	_, err := bus.Call(methodGetCandidate, NewRequest(nil), context.Background())
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestRegisterRejectsDuplicateHandler(t *testing.T) {
	bus := New()
	require.NoError(t, bus.Register(methodGetCandidate, make(chan Request, 1)))

	err := bus.Register(methodGetCandidate, make(chan Request, 1))
	assert.Error(t, err)
}

func TestDeregisterRemovesHandler(t *testing.T) {
	bus := New()
	handler := make(chan Request, 1)
	require.NoError(t, bus.Register(methodGetCandidate, handler))

	bus.Deregister(methodGetCandidate)

	_, err := bus.Call(methodGetCandidate, NewRequest(nil), context.Background())
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestCallRespectsContextCancellationWaitingForHandler(t *testing.T) {
	bus := New()
	require.NoError(t, bus.Register(methodGetCandidate, make(chan Request)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := bus.Call(methodGetCandidate, NewRequest(nil), ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
