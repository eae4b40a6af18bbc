// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"database/sql"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	t.Parallel()

	t.Run("Nil", func(t *testing.T) {
		t.Parallel()

		args, err := Args(nil)
		require.NoError(t, err)
		assert.Nil(t, args)
	})

	t.Run("Positional", func(t *testing.T) {
		t.Parallel()

		args, err := Args(Positional{"a", 1, int32(2), uint8(3), float32(0.5), true, nil, []byte{1}})
		require.NoError(t, err)

		expected := []any{"a", int64(1), int64(2), int64(3), float64(0.5), true, nil, []byte{1}}
		assert.Equal(t, expected, args)
	})

	t.Run("Named", func(t *testing.T) {
		t.Parallel()

		args, err := Args(Named{"b": 2, "a": "x"})
		require.NoError(t, err)

		expected := []any{sql.Named("a", "x"), sql.Named("b", int64(2))}
		assert.Equal(t, expected, args)
	})

	t.Run("Unsupported", func(t *testing.T) {
		t.Parallel()

		_, err := Args(Positional{1, time.Now()})
		require.ErrorIs(t, err, ErrUnsupportedValue)
		assert.Contains(t, err.Error(), "parameter 2")

		_, err = Args(Named{"big": uint64(1 << 63)})
		require.ErrorIs(t, err, ErrUnsupportedValue)

		_, err = Args(Positional{struct{}{}})
		require.ErrorIs(t, err, ErrUnsupportedValue)
	})

	t.Run("Overflow", func(t *testing.T) {
		t.Parallel()

		args, err := Args(Positional{uint64(math.MaxInt64), uint(42)})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(math.MaxInt64), int64(42)}, args)

		for _, v := range []any{uint64(1 << 63), uint64(math.MaxUint64)} {
			_, err = Args(Positional{v})
			require.ErrorIs(t, err, ErrUnsupportedValue)
			assert.Contains(t, err.Error(), "overflows int64")
		}

		if strconv.IntSize == 64 {
			_, err = Args(Positional{uint(math.MaxUint)})
			require.ErrorIs(t, err, ErrUnsupportedValue)
		}
	})
}

func TestMethodString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "all", MethodAll.String())
	assert.Equal(t, "get", MethodGet.String())
	assert.Equal(t, "run", MethodRun.String())
	assert.Equal(t, "values", MethodValues.String())
	assert.Equal(t, "Method(42)", Method(42).String())

	var stmt Statement
	assert.Equal(t, MethodAll, stmt.Method)
}
