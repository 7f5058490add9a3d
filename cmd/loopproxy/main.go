//go:build linux

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/simult/loopproxy/pkg/admin"
	"github.com/simult/loopproxy/pkg/config"
	"github.com/simult/loopproxy/pkg/lb"
	"github.com/simult/loopproxy/pkg/logger"
	"github.com/simult/loopproxy/pkg/version"
	"golang.org/x/sys/unix"
)

var (
	configFilename string
	debug          bool
)

func setRlimitNofile(n uint64) error {
	if n == 0 {
		return nil
	}
	rl := &unix.Rlimit{Cur: n, Max: n}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, rl); err != nil {
		return errors.Wrapf(err, "rlimit nofile %d", n)
	}
	return nil
}

func serveProm(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(address, mux); err != nil {
			errorLogger.Printf("prometheus endpoint %q error: %v", address, err)
		}
	}()
	infoLogger.Printf("prometheus endpoint listening on %q", address)
}

func reload(app *config.App) {
	infoLogger.Printf("reloading configuration from %q", configFilename)
	cfg, err := config.LoadFromFile(configFilename)
	if err != nil {
		errorLogger.Printf("configuration load error: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.StopTimeout)
	defer cancel()
	if err = app.Reload(ctx, cfg); err != nil {
		errorLogger.Printf("configuration reload error: %v", err)
		return
	}
	infoLogger.Print("configuration is active")
}

func main() {
	flag.StringVar(&configFilename, "c", "config.yaml", "config file")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	setLoggers(logger.NewSet(os.Stdout, debug))
	infoLogger.Printf("starting %s", version.UserAgent())

	cfg, err := config.LoadFromFile(configFilename)
	if err != nil {
		errorLogger.Printf("configuration load error: %v", err)
		os.Exit(2)
	}
	if err = setRlimitNofile(cfg.Global.RlimitNofile); err != nil {
		errorLogger.Printf("%v", err)
		os.Exit(2)
	}
	if cfg.Global.PromAddress != "" {
		lb.PromInitialize(cfg.Global.PromNamespace)
		serveProm(cfg.Global.PromAddress)
	}

	app, err := config.NewApp(cfg)
	if err != nil {
		errorLogger.Printf("application start error: %v", err)
		os.Exit(2)
	}
	defer app.Close()

	if cfg.Global.AdminAddress != "" {
		srv, err := admin.Listen(cfg.Global.AdminAddress, app.Hub())
		if err != nil {
			errorLogger.Printf("admin listen error: %v", err)
			app.Close()
			os.Exit(2)
		}
		defer srv.Close()
		infoLogger.Printf("admin endpoint listening on %v", srv.Addr())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	reloadSigCh := make(chan os.Signal, 1)
	signal.Notify(reloadSigCh, syscall.SIGHUP)

	for done := false; !done; {
		select {
		case sig := <-sigCh:
			infoLogger.Printf("received %v, stopping", sig)
			done = true
		case <-app.Done():
			infoLogger.Print("all listeners stopped")
			done = true
		case <-reloadSigCh:
			reload(app)
		}
	}
}
