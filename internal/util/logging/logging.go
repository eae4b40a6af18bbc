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

// Package logging provides logging helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats are supported log formats.
var Formats = []string{"console", "json"}

// Levels are supported log levels.
var Levels = []string{
	zap.DebugLevel.String(),
	zap.InfoLevel.String(),
	zap.WarnLevel.String(),
	zap.ErrorLevel.String(),
}

// Config returns zap configuration for the given level and format.
func Config(level zapcore.Level, format string) (*zap.Config, error) {
	switch format {
	case "console", "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return &zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       level == zap.DebugLevel,
		DisableCaller:     false,
		DisableStacktrace: false,
		Sampling:          nil,
		Encoding:          format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}, nil
}

// Setup initializes global logging with a given level and format, and returns the logger.
func Setup(level zapcore.Level, format string) (*zap.Logger, error) {
	config, err := Config(level, format)
	if err != nil {
		return nil, err
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(logger)

	if _, err = zap.RedirectStdLogAt(logger, zap.InfoLevel); err != nil {
		return nil, err
	}

	return logger, nil
}
