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

// Package debug provides debug facilities.
package debug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"text/template"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
)

// handlers maps paths to descriptions.
var handlers = map[string]string{
	"/debug/graphs":  "Visualize metrics",
	"/debug/metrics": "Metrics in Prometheus format",
	"/debug/pprof/":  "Runtime profiling data for pprof",
}

// NewHandler returns a new debug handler for metrics of the given registry.
func NewHandler(r *prometheus.Registry, l *zap.Logger) (http.Handler, error) {
	stdL, err := zap.NewStdLogAt(l, zap.WarnLevel)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	mux := http.NewServeMux()

	g := newGatherer(r, l)

	mux.Handle("/debug/metrics", promhttp.InstrumentMetricHandler(
		r, promhttp.HandlerFor(g, promhttp.HandlerOpts{
			ErrorLog:          stdL,
			ErrorHandling:     promhttp.ContinueOnError,
			Registry:          r,
			EnableOpenMetrics: true,
		}),
	))

	plots, err := newPlots(g)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	opts := []statsviz.Option{statsviz.Root("/debug/graphs")}
	for _, p := range plots {
		opts = append(opts, statsviz.TimeseriesPlot(p))
	}

	if err = statsviz.Register(mux, opts...); err != nil {
		return nil, lazyerrors.Error(err)
	}

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	var page bytes.Buffer
	err = template.Must(template.New("debug").Parse(`
	<html>
	<body>
	<ul>
	{{range $path, $desc := .}}
		<li><a href="{{$path}}">{{$path}}</a>: {{$desc}}</li>
	{{end}}
	</ul>
	</body>
	</html>
	`)).Execute(&page, handlers)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	mux.HandleFunc("/debug", func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write(page.Bytes())
	})

	mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		http.Redirect(rw, req, "/debug", http.StatusSeeOther)
	})

	return mux, nil
}

// RunHandler runs debug handler on the given address until ctx is canceled.
func RunHandler(ctx context.Context, addr string, r *prometheus.Registry, l *zap.Logger) error {
	h, err := NewHandler(r, l)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return lazyerrors.Error(err)
	}

	s := http.Server{
		Handler:           h,
		ReadHeaderTimeout: 3 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	root := fmt.Sprintf("http://%s", lis.Addr())

	l.Sugar().Infof("Starting debug server on %s ...", root)

	paths := maps.Keys(handlers)
	slices.Sort(paths)

	for _, path := range paths {
		l.Sugar().Infof("%s%s - %s", root, path, handlers[path])
	}

	done := make(chan error, 1)

	go func() {
		if err := s.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
			done <- lazyerrors.Error(err)
			return
		}

		done <- nil
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	_ = s.Shutdown(stopCtx) //nolint:contextcheck // use new context for cancellation

	l.Sugar().Info("Debug server stopped.")

	return <-done
}
