// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"fmt"

	"github.com/google/go-github/v75/github"
)

// AnyAction registers a handler for every action of an event type,
// including events that carry no action at all.
const AnyAction = "*"

// Event is one verified webhook delivery.
type Event struct {
	// Type is the X-GitHub-Event header, e.g. "push".
	Type string
	// Action is the payload's "action" field; empty when absent.
	Action         string
	DeliveryID     string
	InstallationID int64
	Owner          string
	Payload        []byte
	// Parsed is the go-github representation of Payload, e.g. *github.PushEvent.
	Parsed any
}

// Handler processes one event. The client acts as the event's installation
// and is nil when the event names no installation.
type Handler func(ctx context.Context, event *Event, client *github.Client) error

type route struct {
	event, action string
}

// Router maps (event type, action) pairs to handlers.
type Router struct {
	routes map[route]Handler
}

func NewRouter() *Router {
	return &Router{routes: make(map[route]Handler)}
}

// Handle registers h for the event type and action. Registering the same
// pair twice panics, like http.ServeMux.
func (r *Router) Handle(event, action string, h Handler) {
	if event == "" || h == nil {
		panic("webhook: Handle requires an event type and a handler")
	}
	if action == "" {
		action = AnyAction
	}
	k := route{event: event, action: action}
	if _, dup := r.routes[k]; dup {
		panic(fmt.Sprintf("webhook: multiple registrations for %s/%s", event, action))
	}
	r.routes[k] = h
}

// Lookup finds the handler for an event. An exact action match wins over an
// AnyAction registration.
func (r *Router) Lookup(event, action string) (Handler, bool) {
	if action != "" {
		if h, ok := r.routes[route{event: event, action: action}]; ok {
			return h, true
		}
	}
	h, ok := r.routes[route{event: event, action: AnyAction}]
	return h, ok
}
