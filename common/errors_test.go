// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstError_CanBeWrappedAndMatched(t *testing.T) {
	const ErrSomething = ConstError("something")
	err := fmt.Errorf("context: %w", ErrSomething)
	require.True(t, errors.Is(err, ErrSomething))
	require.Equal(t, "context: something", err.Error())
}
