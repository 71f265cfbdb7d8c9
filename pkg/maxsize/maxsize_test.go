// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package maxsize

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRoundTripper(t *testing.T) {
	body := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("chunked") != "" {
			// Flushing before writing hides the length.
			w.(http.Flusher).Flush()
		}
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		size    int64
		chunked bool
		wantErr bool
	}{{
		name: "large size",
		size: 1000000,
	}, {
		name: "exact size",
		size: 1000,
	}, {
		name:    "tiny size",
		size:    10,
		wantErr: true,
	}, {
		name:    "tiny size chunked",
		size:    10,
		chunked: true,
		wantErr: true,
	}, {
		name:    "exact size chunked",
		size:    1000,
		chunked: true,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &http.Client{Transport: NewRoundTripper(tt.size, srv.Client().Transport)}
			url := srv.URL
			if tt.chunked {
				url += "?chunked=1"
			}
			resp, err := client.Get(url)
			if err == nil {
				defer resp.Body.Close()
				var got []byte
				got, err = io.ReadAll(resp.Body)
				if err == nil && string(got) != body {
					t.Errorf("body = %d bytes, want %d", len(got), len(body))
				}
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrTooLarge) {
				t.Errorf("error = %v, want ErrTooLarge", err)
			}
		})
	}
}
