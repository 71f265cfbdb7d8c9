// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gcpkms signs App assertions with an asymmetric Cloud KMS key so
// the App's private key never leaves KMS.
package gcpkms

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
)

// signingMethod is a jwt.SigningMethod backed by KMS AsymmetricSign. The
// key passed to Sign is the CryptoKeyVersion resource name.
type signingMethod struct {
	ctx    context.Context
	client *kms.KeyManagementClient
}

func (s *signingMethod) Verify(string, string, interface{}) error {
	return errors.New("not implemented")
}

func (s *signingMethod) Sign(signingString string, ikey interface{}) (string, error) {
	key, ok := ikey.(string)
	if !ok {
		return "", fmt.Errorf("invalid key reference type: %T", ikey)
	}
	// RSA_SIGN_PKCS1_*_SHA256 keys sign a precomputed digest.
	digest := sha256.Sum256([]byte(signingString))
	resp, err := s.client.AsymmetricSign(s.ctx, &kmspb.AsymmetricSignRequest{
		Name: key,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{Sha256: digest[:]},
		},
	})
	if err != nil {
		return "", fmt.Errorf("kms sign %s: %w", key, err)
	}
	return base64.RawURLEncoding.EncodeToString(resp.GetSignature()), nil
}

func (s *signingMethod) Alg() string {
	return "RS256"
}

type signer struct {
	ctx    context.Context
	client *kms.KeyManagementClient
	key    string
}

// New returns a ghinstallation.Signer using the given CryptoKeyVersion.
func New(ctx context.Context, client *kms.KeyManagementClient, key string) (ghinstallation.Signer, error) {
	if client == nil {
		return nil, errors.New("gcpkms: nil KMS client")
	}
	if key == "" {
		return nil, errors.New("gcpkms: empty key name")
	}
	return &signer{
		ctx:    ctx,
		client: client,
		key:    key,
	}, nil
}

// Sign signs the JWT claims with the KMS key.
func (s *signer) Sign(claims jwt.Claims) (string, error) {
	method := &signingMethod{
		ctx:    s.ctx,
		client: s.client,
	}
	return jwt.NewWithClaims(method, claims).SignedString(s.key)
}
