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

// Package version provides information about labdb version and build configuration.
package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
)

// unknown is a placeholder for unknown version and commit values.
const unknown = "unknown"

// Info provides details about the current build.
//
//nolint:vet // for readability
type Info struct {
	Version          string
	Commit           string
	Dirty            bool
	BuildEnvironment map[string]string
}

// Get returns current build's info.
func Get() *Info {
	bi, _ := debug.ReadBuildInfo()
	return fromBuildInfo(bi)
}

// fromBuildInfo returns Info for the given build info that may be nil.
func fromBuildInfo(bi *debug.BuildInfo) *Info {
	info := &Info{
		Version: unknown,
		Commit:  unknown,
		BuildEnvironment: map[string]string{
			"go.runtime": runtime.Version(),
		},
	}

	if bi == nil {
		return info
	}

	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.Version = v
	}

	info.BuildEnvironment["go.version"] = bi.GoVersion

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.modified":
			info.Dirty, _ = strconv.ParseBool(s.Value)
		default:
			info.BuildEnvironment[s.Key] = s.Value
		}
	}

	return info
}
