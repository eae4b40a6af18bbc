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
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ErrUnsupportedValue is returned for parameter values outside of the supported set.
var ErrUnsupportedValue = errors.New("unsupported parameter value")

// Method is the result mode of a statement.
type Method int

// Result modes.
const (
	MethodAll    Method = iota // all rows
	MethodGet                  // the first row only
	MethodRun                  // no rows
	MethodValues               // all rows, as values
)

// String implements fmt.Stringer.
func (m Method) String() string {
	switch m {
	case MethodAll:
		return "all"
	case MethodGet:
		return "get"
	case MethodRun:
		return "run"
	case MethodValues:
		return "values"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Statement is a single SQL statement with parameters.
//
// It should not be modified once passed to any layer.
type Statement struct {
	SQL    string
	Params Params
	Method Method
}

// Params are statement parameters: either Positional or Named.
//
// Nil Params means no parameters.
type Params interface {
	// args returns arguments for database/sql.
	args() ([]any, error)
}

// Positional represents positional parameters (?, ?NNN).
type Positional []any

// Named represents named parameters (:name, @name, $name) without prefix.
type Named map[string]any

// args implements Params interface.
func (p Positional) args() ([]any, error) {
	res := make([]any, len(p))

	for i, v := range p {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}

		res[i] = nv
	}

	return res, nil
}

// args implements Params interface.
//
// Arguments are returned in sorted name order.
func (p Named) args() ([]any, error) {
	names := maps.Keys(p)
	slices.Sort(names)

	res := make([]any, len(names))

	for i, name := range names {
		nv, err := normalize(p[name])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}

		res[i] = sql.Named(name, nv)
	}

	return res, nil
}

// Args returns database/sql arguments for the given parameters.
//
// It returns an error wrapping ErrUnsupportedValue if any value is not supported.
func Args(p Params) ([]any, error) {
	if p == nil {
		return nil, nil
	}

	return p.args()
}

// normalize returns the value converted to one of supported types:
// nil, string, []byte, bool, int64, float64.
func normalize(v any) (any, error) {
	switch v := v.(type) {
	case nil, string, []byte, bool, int64, float64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > 1<<63-1 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, v)
		}
		return int64(v), nil
	case uint64:
		if v > 1<<63-1 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, v)
		}
		return int64(v), nil
	case float32:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// check interfaces
var (
	_ Params = Positional(nil)
	_ Params = Named(nil)
)
