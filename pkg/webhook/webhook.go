// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

const (
	// See https://docs.github.com/en/developers/webhooks-and-events/webhooks/webhook-events-and-payloads#delivery-headers for list of available headers

	// HeaderDelivery is the GUID of the webhook event.
	HeaderDelivery = "X-GitHub-Delivery"
	// HeaderEvent is the event name of the webhook.
	HeaderEvent = "X-GitHub-Event"
	// HeaderSignature carries the HMAC-SHA256 of the body.
	HeaderSignature = "X-Hub-Signature-256"

	// GitHub caps webhook payloads at 25MB.
	maxPayloadSize = 25 << 20
)

// ClientFactory hands out clients authenticated as an installation.
type ClientFactory interface {
	Client(ctx context.Context, installationID int64) (*github.Client, error)
}

// Dispatcher is the webhook endpoint. It authenticates each delivery,
// routes it to at most one handler and maps the outcome onto the status
// code GitHub records for the delivery.
type Dispatcher struct {
	// Store multiple secrets to allow for rolling updates.
	// Only one needs to match for the event to be considered valid.
	WebhookSecret [][]byte
	Router        *Router
	Clients       ClientFactory

	// Organizations, when set, restricts handling to these owners.
	Organizations []string
}

// envelope holds the fields every routed event needs before it is parsed
// into its go-github type.
type envelope struct {
	Action       string `json:"action"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Repository struct {
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Organization struct {
		Login string `json:"login"`
	} `json:"organization"`
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := clog.FromContext(r.Context()).With(
		HeaderDelivery, r.Header.Get(HeaderDelivery),
		HeaderEvent, r.Header.Get(HeaderEvent),
	)
	ctx := clog.WithLogger(r.Context(), log)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Nothing about the delivery is looked at until it is authenticated.
	payload, err := d.authenticate(r)
	if err != nil {
		log.Warnf("rejecting delivery: %v", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := github.WebHookType(r)
	if eventType == "" {
		http.Error(w, "missing "+HeaderEvent+" header", http.StatusBadRequest)
		return
	}
	if eventType == "ping" {
		log.Info("received ping")
		w.WriteHeader(http.StatusOK)
		return
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Errorf("error parsing webhook envelope: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	event := &Event{
		Type:           eventType,
		Action:         env.Action,
		DeliveryID:     github.DeliveryID(r),
		InstallationID: env.Installation.ID,
		Owner:          env.Repository.Owner.Login,
		Payload:        payload,
	}
	if event.Owner == "" {
		event.Owner = env.Organization.Login
	}
	log = log.With("github/action", event.Action, "github/installation", event.InstallationID)
	ctx = clog.WithLogger(ctx, log)

	h, ok := d.Router.Lookup(event.Type, event.Action)
	if !ok {
		// Acknowledge so GitHub does not mark the delivery as failed.
		log.Infof("no handler for %s/%s", event.Type, event.Action)
		w.WriteHeader(http.StatusOK)
		return
	}
	if d.shouldSkipOrganization(event.Owner) {
		log.Infof("skipping organization %s", event.Owner)
		w.WriteHeader(http.StatusOK)
		return
	}

	event.Parsed, err = github.ParseWebHook(eventType, payload)
	if err != nil {
		log.Errorf("error parsing webhook: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var client *github.Client
	if event.InstallationID != 0 && d.Clients != nil {
		client, err = d.Clients.Client(ctx, event.InstallationID)
		if err != nil {
			log.Errorf("error creating installation client: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := invoke(ctx, h, event, client); err != nil {
		log.Errorf("error handling event %s/%s: %v", event.Type, event.Action, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (d *Dispatcher) authenticate(r *http.Request) ([]byte, error) {
	signature := r.Header.Get(HeaderSignature)
	if signature == "" {
		return nil, errors.New("missing " + HeaderSignature + " header")
	}
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	for _, s := range d.WebhookSecret {
		if Verify(body, signature, s) {
			return body, nil
		}
	}
	return nil, errors.New("no matching secrets")
}

// invoke runs h, turning a panic into an error so one bad delivery cannot
// take the process down.
func invoke(ctx context.Context, h Handler, event *Event, client *github.Client) (err error) {
	defer func() {
		if r := recover(); r != nil {
			clog.FromContext(ctx).Errorf("handler panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event, client)
}

func (d *Dispatcher) shouldSkipOrganization(org string) bool {
	if len(d.Organizations) == 0 {
		return false
	}
	for _, o := range d.Organizations {
		if strings.EqualFold(o, org) {
			return false
		}
	}
	return true
}
