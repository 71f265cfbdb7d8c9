// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package nopceclient

import (
	"context"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var _ cloudevents.Client = Client{}

func TestSend(t *testing.T) {
	event := cloudevents.NewEvent()
	event.SetType("dev.testgen.run")
	event.SetSource("test")
	result := Client{}.Send(context.Background(), event)
	if cloudevents.IsUndelivered(result) || cloudevents.IsNACK(result) {
		t.Errorf("Send() = %v", result)
	}
	if _, err := (Client{}).Request(context.Background(), event); err == nil {
		t.Error("Request() succeeded")
	}
}
