// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReportIncludesWrappedCause(t *testing.T) {
	var buffer bytes.Buffer
	report(&buffer, fmt.Errorf("loading config: %w", errors.New("no such file")))
	if got, want := buffer.String(), "error: loading config: no such file\n"; got != want {
		t.Errorf("report wrote %q, want %q", got, want)
	}
}
