// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package rpcbus is a synchronous request/response bus used where a
// caller needs an answer back rather than a fire-and-forget
// notification — the candidate store lookups the round driver's
// Agreement task issues while finalizing a round.
package rpcbus

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Method names one request/response channel.
type Method uint8

// Request is one call: Params is the method-specific argument, and
// RespChan is where Call delivers the single Response.
type Request struct {
	Params   interface{}
	RespChan chan Response
}

// NewRequest wraps params into a Request with a ready response channel.
func NewRequest(params interface{}) Request {
	return Request{Params: params, RespChan: make(chan Response, 1)}
}

// Response carries either a result or an error, never both.
type Response struct {
	Resp interface{}
	Err  error
}

// ErrNoHandler is returned by Call when no consumer is registered for
// the requested Method.
var ErrNoHandler = errors.New("rpcbus: no handler registered for this method")

// RPCBus routes Requests to whichever single consumer registered
// itself for a Method, and waits for that consumer's Response.
type RPCBus struct {
	mu       sync.RWMutex
	handlers map[Method]chan Request
}

// New returns an empty RPCBus.
func New() *RPCBus {
	return &RPCBus{handlers: make(map[Method]chan Request)}
}

// Register installs a consumer's request channel for method, failing
// if one is already registered (single-consumer-per-method, matching
// the one round driver per node that answers GetCandidate-style
// calls).
func (b *RPCBus) Register(method Method, handler chan Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[method]; ok {
		return errors.Errorf("rpcbus: method %d already has a registered handler", method)
	}
	b.handlers[method] = handler
	return nil
}

// Deregister removes method's consumer, if any.
func (b *RPCBus) Deregister(method Method) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, method)
}

// Call issues req against method's registered consumer and blocks
// until it answers or ctx is done.
func (b *RPCBus) Call(method Method, req Request, ctx context.Context) (interface{}, error) {
	b.mu.RLock()
	handler, ok := b.handlers[method]
	b.mu.RUnlock()

	if !ok {
		return nil, ErrNoHandler
	}

	select {
	case handler <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.RespChan:
		return resp.Resp, resp.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
