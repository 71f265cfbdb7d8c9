// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package nopceclient is the cloudevents client used when no event ingress
// is configured. Every event is dropped.
package nopceclient

import (
	"context"
	"errors"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/cloudevents/sdk-go/v2/protocol"
)

var errUnsupported = errors.New("nopceclient: only Send is supported")

type Client struct{}

func (n Client) Send(_ context.Context, _ event.Event) protocol.Result {
	return nil
}

func (n Client) Request(_ context.Context, _ event.Event) (*event.Event, protocol.Result) {
	return nil, errUnsupported
}

func (n Client) StartReceiver(_ context.Context, _ interface{}) error {
	return errUnsupported
}
