package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/MeKo-Tech/negafix/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the correction pipeline over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().Int64("max-upload-bytes", server.DefaultMaxUploadBytes, "Largest accepted upload in bytes")
	serveCmd.Flags().Int64("max-pixels", server.DefaultMaxPixels, "Largest accepted image canvas (width × height)")
	serveCmd.Flags().Int("max-concurrent", runtime.NumCPU(), "Max concurrent corrections (default: number of CPUs)")
	serveCmd.Flags().Duration("request-timeout", server.DefaultRequestTimeout, "How long a request may wait for a free pipeline slot")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.max_upload_bytes", "max-upload-bytes")
	mustBind("serve.max_pixels", "max-pixels")
	mustBind("serve.max_concurrent", "max-concurrent")
	mustBind("serve.request_timeout", "request-timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	maxConc := viper.GetInt("serve.max_concurrent")

	cfg, err := correctionConfig(viper.GetViper())
	if err != nil {
		return err
	}
	encOpts, err := encodeOptions(viper.GetViper())
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Correct:        cfg,
		Encode:         encOpts,
		MaxUploadBytes: viper.GetInt64("serve.max_upload_bytes"),
		MaxPixels:      viper.GetInt64("serve.max_pixels"),
		MaxConcurrent:  maxConc,
		RequestTimeout: viper.GetDuration("serve.request_timeout"),
	}, logger)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("correction server listening", "addr", addr, "max_concurrent", maxConc)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down correction server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
