// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"errors"
	"testing"
)

func TestSchemaNotFoundErrorUnwraps(t *testing.T) {
	err := &SchemaNotFoundError{ID: 5}
	if !errors.Is(err, ErrSchemaNotFound) {
		t.Error("SchemaNotFoundError should unwrap to ErrSchemaNotFound")
	}
}

func TestStateDesyncErrorUnwraps(t *testing.T) {
	err := &StateDesyncError{Expected: 1, Actual: 2}
	if !errors.Is(err, ErrStateDesync) {
		t.Error("StateDesyncError should unwrap to ErrStateDesync")
	}
}
