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

// Command labdb executes SQL statements against an embedded SQLite database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ibilux/draft-lab-db/internal/util/ctxutil"
	"github.com/ibilux/draft-lab-db/internal/util/debug"
	"github.com/ibilux/draft-lab-db/internal/util/logging"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
	"github.com/ibilux/draft-lab-db/internal/util/version"
	"github.com/ibilux/draft-lab-db/labdb"
)

// flags represents all command-line commands, fields and flags.
// It's used for parsing the user input.
//
//nolint:lll,vet // for readability
type flags struct {
	Version versionFlag `help:"Print version to stdout and exit." env:"-"`

	Database string `default:"labdb.db" help:"Database file path; ':memory:' for the in-memory database."`
	ReadOnly bool   `default:"false"    help:"Open the database in read-only mode."`

	Log struct {
		Level  string `default:"info"    help:"${help_log_level}"`
		Format string `default:"console" help:"${help_log_format}" enum:"${enum_log_format}"`
	} `embed:"" prefix:"log-"`

	DebugAddr     string `default:"-" help:"Listen address for HTTP handlers for metrics, pprof, etc."`
	OtelTracesURL string `default:""  help:"OpenTelemetry OTLP/HTTP traces endpoint (host:port)." name:"otel-traces-url"`

	Query struct {
		SQL  string   `arg:"" help:"SQL query."`
		Args []string `arg:"" help:"Positional parameters." optional:""`
	} `cmd:"" help:"Execute query and print all records."`

	Get struct {
		SQL  string   `arg:"" help:"SQL query."`
		Args []string `arg:"" help:"Positional parameters." optional:""`
	} `cmd:"" help:"Execute query and print the first record."`

	Run struct {
		SQL  string   `arg:"" help:"SQL statement."`
		Args []string `arg:"" help:"Positional parameters." optional:""`
	} `cmd:"" help:"Execute statement and print the number of affected rows."`

	Batch struct {
		SQL []string `arg:"" help:"SQL statements."`
	} `cmd:"" help:"Execute statements as a batch."`

	Transaction struct {
		SQL []string `arg:"" help:"SQL statements."`
	} `cmd:"" help:"Execute statements as a single transaction."`

	Export struct {
		File string `arg:"" help:"Destination file." type:"path"`
	} `cmd:"" help:"Export database to the file."`

	Import struct {
		File string `arg:"" help:"Source file." type:"existingfile"`
	} `cmd:"" help:"Replace database content with the file's content."`

	Status struct{} `cmd:"" help:"Print database status."`
}

// cli holds parsed flags.
var cli flags

// Additional variables for the kong parsers.
var kongOptions = []kong.Option{
	kong.Vars{
		"enum_log_format": strings.Join(logging.Formats, ","),

		"help_log_format": fmt.Sprintf("Log format: '%s'.", strings.Join(logging.Formats, "', '")),
		"help_log_level":  fmt.Sprintf("Log level: '%s'.", strings.Join(logging.Levels, "', '")),
	},
	kong.DefaultEnvars("LABDB"),
}

func main() {
	kongCtx := kong.Parse(&cli, kongOptions...)

	if err := run(kongCtx.Selected().Name); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s.\n", err)
		os.Exit(1)
	}
}

// versionFlag prints version information and exits.
type versionFlag bool

// BeforeApply is called by kong before commands are validated.
func (versionFlag) BeforeApply(app *kong.Kong) error {
	printVersion(app.Stdout)
	app.Exit(0)

	return nil
}

// printVersion prints version information to w.
func printVersion(w io.Writer) {
	info := version.Get()

	fmt.Fprintln(w, "version:", info.Version)
	fmt.Fprintln(w, "commit:", info.Commit)
	fmt.Fprintln(w, "dirty:", info.Dirty)
	fmt.Fprintln(w, "go:", info.BuildEnvironment["go.runtime"])
}

// setupLogger setups zap logger.
func setupLogger() *zap.Logger {
	level, err := zapcore.ParseLevel(cli.Log.Level)
	if err != nil {
		log.Fatal(err)
	}

	l, err := logging.Setup(level, cli.Log.Format)
	if err != nil {
		log.Fatal(err)
	}

	return l
}

// setupMetrics returns Prometheus registry with process and Go runtime metrics.
func setupMetrics() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// run sets up environment based on provided flags and runs the command.
func run(cmd string) (err error) {
	logger := setupLogger()

	if _, err = maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Sugar().Warnf("Failed to set GOMAXPROCS: %s.", err)
	}

	ctx, stop := ctxutil.SigTerm(context.Background())
	defer stop()

	shutdown, err := observability.SetupOtel("labdb", cli.OtelTracesURL)
	if err != nil {
		return err
	}

	defer func() {
		if e := shutdown(context.Background()); e != nil {
			logger.Warn("Failed to shutdown OpenTelemetry.", zap.Error(e))
		}
	}()

	r := setupMetrics()

	var wg sync.WaitGroup
	defer wg.Wait()

	debugCtx, debugCancel := context.WithCancel(ctx)
	defer debugCancel()

	// https://github.com/alecthomas/kong/issues/389
	if cli.DebugAddr != "" && cli.DebugAddr != "-" {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if e := debug.RunHandler(debugCtx, cli.DebugAddr, r, logger.Named("debug")); e != nil {
				logger.Error("Debug handler failed.", zap.Error(e))
			}
		}()
	}

	db, err := labdb.New(ctx, &labdb.Config{
		Path:     cli.Database,
		ReadOnly: cli.ReadOnly,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	r.MustRegister(db)

	defer func() {
		err = errors.Join(err, db.Close(context.Background())) //nolint:contextcheck // close even if canceled
	}()

	return execute(ctx, os.Stdout, db.Client(), cmd, &cli)
}
