// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package gcpkms

import (
	"context"
	"crypto/sha256"
	"net"
	"strings"
	"testing"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type fakeKMS struct {
	kmspb.UnimplementedKeyManagementServiceServer

	got []*kmspb.AsymmetricSignRequest
}

func (f *fakeKMS) AsymmetricSign(_ context.Context, req *kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error) {
	f.got = append(f.got, req)
	return &kmspb.AsymmetricSignResponse{
		Signature: []byte("fake"),
	}, nil
}

func newClient(ctx context.Context, t *testing.T, impl kmspb.KeyManagementServiceServer) *kms.KeyManagementClient {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	gsrv := grpc.NewServer()
	kmspb.RegisterKeyManagementServiceServer(gsrv, impl)
	go func() {
		_ = gsrv.Serve(l)
	}()
	t.Cleanup(gsrv.Stop)

	client, err := kms.NewKeyManagementClient(ctx,
		option.WithEndpoint(l.Addr().String()),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSign(t *testing.T) {
	ctx := context.Background()
	impl := &fakeKMS{}
	client := newClient(ctx, t, impl)

	s, err := New(ctx, client, "projects/p/locations/l/keyRings/r/cryptoKeys/k/cryptoKeyVersions/1")
	if err != nil {
		t.Fatal(err)
	}

	tok, err := s.Sign(jwt.RegisteredClaims{Issuer: "1234"})
	if err != nil {
		t.Fatalf("Sign() = %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, wanted 3", len(parts))
	}

	if len(impl.got) != 1 {
		t.Fatalf("AsymmetricSign calls: got = %d, wanted = 1", len(impl.got))
	}
	want := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if got := impl.got[0].GetDigest().GetSha256(); string(got) != string(want[:]) {
		t.Errorf("digest mismatch: got = %x, wanted = %x", got, want)
	}
}

func TestNewRejectsMissingInputs(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, nil, "key"); err == nil {
		t.Error("New(nil client) = nil, wanted error")
	}
	client := newClient(ctx, t, &fakeKMS{})
	if _, err := New(ctx, client, ""); err == nil {
		t.Error("New(empty key) = nil, wanted error")
	}
}
