package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsdesk/chatlink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenMetricsAddr string

func init() {
	listenCmd.Flags().StringVar(&listenMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen [thread]",
	Short: "Stream a thread's live events",
	Long:  "Open a live connection to a thread and print every event until interrupted. The connection reconnects on its own.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getSession()
		if err != nil {
			return err
		}
		defer s.log.Sync() //nolint:errcheck

		thread, err := s.thread(args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rcfg := s.realtimeConfig()
		if listenMetricsAddr != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			rcfg.Metrics = chatlink.NewMetrics(reg)
			srv := serveMetrics(listenMetricsAddr, reg, s.log)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
		rcfg.OnStateChange = func(st chatlink.RealtimeState) {
			switch st {
			case chatlink.StateOpen:
				fmt.Fprintln(os.Stderr, stateLabel(true))
			case chatlink.StateDisconnected:
				fmt.Fprintln(os.Stderr, stateLabel(false))
			}
		}

		live := s.client.Realtime(thread, printEvent, rcfg)
		defer live.Close()

		fmt.Fprintf(os.Stderr, "Listening on %s %s\n", bold(thread), gray("(Ctrl-C to stop)"))
		<-ctx.Done()
		return nil
	},
}

func printEvent(ev chatlink.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", ev.Data))
	}
	fmt.Printf("%s %s %s\n", gray(time.Now().Format("15:04:05")), bold(ev.Type), data)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}
