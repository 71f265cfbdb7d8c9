// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"errors"
	"net"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	current  = "projects/foo/secrets/webhook/versions/2"
	previous = "projects/foo/secrets/webhook/versions/1"
	empty    = "projects/foo/secrets/empty/versions/latest"
)

func setupFakeSecretManagerClient(t *testing.T) *secretmanager.Client {
	t.Helper()
	ctx := context.Background()

	// Set up the fake server.
	impl := &fakeSecretManager{data: map[string]string{
		current:  "new-secret",
		previous: "old-secret",
		empty:    "",
	}}
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	gsrv := grpc.NewServer()
	secretmanagerpb.RegisterSecretManagerServiceServer(gsrv, impl)
	fakeServerAddr := l.Addr().String()

	go gsrv.Serve(l) //nolint:errcheck

	t.Cleanup(func() {
		gsrv.Stop()
	})

	// Create a client.
	client, err := secretmanager.NewClient(ctx,
		option.WithEndpoint(fakeServerAddr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func TestGetSecret(t *testing.T) {
	ctx := context.Background()
	client := setupFakeSecretManagerClient(t)

	data, err := GetSecret(ctx, client, current)
	assert.NoError(t, err)
	assert.Equal(t, "new-secret", string(data))

	_, err = GetSecret(ctx, client, "invalid-key-id")
	assert.Error(t, err)

	_, err = GetSecret(ctx, client, empty)
	assert.Error(t, err)
}

func TestGetSecrets(t *testing.T) {
	ctx := context.Background()
	client := setupFakeSecretManagerClient(t)

	data, err := GetSecrets(ctx, client, []string{current, previous})
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("new-secret"), []byte("old-secret")}, data)

	_, err = GetSecrets(ctx, client, []string{current, "invalid-key-id"})
	assert.Error(t, err)

	_, err = GetSecrets(ctx, client, nil)
	assert.Error(t, err)
}

// fakeSecretManager implements the SecretManagerServiceServer interface.
// By embedding UnimplementedSecretManagerServiceServer, we only need to
// implement the methods we actually use in tests.
type fakeSecretManager struct {
	secretmanagerpb.UnimplementedSecretManagerServiceServer
	data map[string]string
}

func (f *fakeSecretManager) AccessSecretVersion(_ context.Context, request *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if d, ok := f.data[request.Name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{
				Data: []byte(d),
			},
		}, nil
	}
	return nil, errors.New("not found")
}
