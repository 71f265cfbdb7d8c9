// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package ghtransport

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	kms "cloud.google.com/go/kms/apiv1"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/testgen/app/pkg/envconfig"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestGCPKMS(t *testing.T) {
	ctx := context.Background()

	testConfig := &envconfig.EnvConfig{
		Port:   8080,
		AppID:  123456,
		KMSKey: "test-kms-key",
	}

	transport, err := New(ctx, testConfig, generateKMSClient(ctx, t), nil)

	assert.NoError(t, err)
	assert.NotNil(t, transport)
	assert.Equal(t, int64(123456), transport.AppID())
}

func TestKMSWithoutClient(t *testing.T) {
	ctx := context.Background()

	testConfig := &envconfig.EnvConfig{
		AppID:  123456,
		KMSKey: "test-kms-key",
	}

	_, err := New(ctx, testConfig, nil, nil)
	assert.Error(t, err)
}

func TestCertEnvVar(t *testing.T) {
	ctx := context.Background()

	testConfig := &envconfig.EnvConfig{
		Port:                       8080,
		AppID:                      123456,
		AppSecretCertificateEnvVar: generateTestCertificateString(t),
		BaseURL:                    "https://ghe.example.com/api/v3",
	}

	transport, err := New(ctx, testConfig, nil, nil)

	assert.NoError(t, err)
	assert.NotNil(t, transport)
	assert.Equal(t, "https://ghe.example.com/api/v3", transport.BaseURL)
}

func TestCertFile(t *testing.T) {
	ctx := context.Background()

	testConfig := &envconfig.EnvConfig{
		Port:                     8080,
		AppID:                    123456,
		AppSecretCertificateFile: generateTestCertificateFile(t),
	}

	signer, err := NewSigner(ctx, testConfig, nil)
	assert.NoError(t, err)

	tok, err := signer.Sign(jwt.RegisteredClaims{Issuer: "123456"})
	assert.NoError(t, err)
	assert.NotEmpty(t, tok)
}

func TestBadKey(t *testing.T) {
	ctx := context.Background()

	for name, cfg := range map[string]*envconfig.EnvConfig{
		"garbage env var": {AppID: 1, AppSecretCertificateEnvVar: "not a pem"},
		"missing file":    {AppID: 1, AppSecretCertificateFile: filepath.Join(t.TempDir(), "nope.pem")},
		"nothing":         {AppID: 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewSigner(ctx, cfg, nil)
			assert.Error(t, err)
		})
	}
}

func generateKMSClient(ctx context.Context, t *testing.T) *kms.KeyManagementClient {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	client, err := kms.NewKeyManagementClient(ctx,
		option.WithEndpoint(l.Addr().String()),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatal(err)
	}

	return client
}

func generateTestCertificate(t *testing.T) []byte {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	var pemOut bytes.Buffer
	if err := pem.Encode(&pemOut, &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}); err != nil {
		t.Fatal(err)
	}
	return pemOut.Bytes()
}

func generateTestCertificateString(t *testing.T) string {
	return string(generateTestCertificate(t))
}

func generateTestCertificateFile(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "privateKey.pem")
	if err := os.WriteFile(path, generateTestCertificate(t), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
