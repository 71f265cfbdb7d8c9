// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import "time"

// Clock abstracts time.Now so token expiry can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }
