package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"examkiosk/internal/api"
	"examkiosk/internal/api/middleware"
	"examkiosk/internal/audit"
	"examkiosk/internal/config"
	"examkiosk/internal/filter"
	"examkiosk/internal/kiosk"
	"examkiosk/internal/models"
	"examkiosk/internal/services"
	"examkiosk/internal/session"
	"examkiosk/internal/shell"
	"examkiosk/internal/storage"
	"examkiosk/pkg/logger"
)

const shutdownTimeout = 2 * time.Second

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the kiosk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := run(configPath)
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "configs/examkiosk.json", "Path to config file")
	return cmd
}

// exitSignal carries the controller's exit code to the main goroutine. The
// controller calls Exit while holding its lock, so Exit must not block.
type exitSignal struct {
	once   sync.Once
	cancel context.CancelFunc
	code   int
}

func (e *exitSignal) Exit(code int) {
	e.once.Do(func() {
		e.code = code
		e.cancel()
	})
}

func run(configPath string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return kiosk.ExitFatal, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Options{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	log.Info().Str("version", Version).Str("config", configPath).Msg("starting examkiosk")

	dataDir := cfg.Storage.DataDir
	if !filepath.IsAbs(dataDir) {
		wd, _ := os.Getwd()
		dataDir = filepath.Join(wd, dataDir)
		cfg.Storage.DataDir = dataDir
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	term := &exitSignal{cancel: cancel}

	store, err := storage.New(dataDir, log)
	if err != nil {
		return kiosk.ExitFatal, fmt.Errorf("initialize storage: %w", err)
	}
	go func() {
		if err := store.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("data file watcher stopped")
		}
	}()

	auditLog, err := audit.Open(cfg.Storage.AuditPath(), log)
	if err != nil {
		return kiosk.ExitFatal, fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	authSvc := services.NewAuthService(store, auditLog, log)
	if err := authSvc.InitializeAdmin(cfg.Bootstrap.AdminID, cfg.Bootstrap.AdminPassword); err != nil {
		log.Warn().Err(err).Msg("failed to initialize admin")
	}

	requestFilter := filter.New(store, log)
	proxyServer := &http.Server{
		Addr:              cfg.Proxy.Addr(),
		Handler:           filter.NewProxy(requestFilter, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	link := shell.NewLink(log)
	ctl := kiosk.NewController(link, link.Surface(), link, term, kiosk.Options{
		FocusGrace:       cfg.Kiosk.FocusGrace(),
		TopRelease:       cfg.Kiosk.TopRelease(),
		UserBarHeight:    cfg.Kiosk.UserBarHeight,
		BlockedShortcuts: cfg.Kiosk.BlockedShortcuts,
		ForceQuit:        cfg.Kiosk.ForceQuit,
	}, log)

	router := session.NewRouter(models.NewSession(), authSvc, requestFilter, ctl, store, auditLog, log)
	link.Bind(ctl, router.SurfaceNavigated)

	bridgeAuth, err := middleware.NewBridgeAuth(cfg.Bridge.TokenTTL())
	if err != nil {
		return kiosk.ExitFatal, fmt.Errorf("bridge key: %w", err)
	}
	uiToken, err := bridgeAuth.GenerateToken(middleware.AudienceUI)
	if err != nil {
		return kiosk.ExitFatal, err
	}
	shellToken, err := bridgeAuth.GenerateToken(middleware.AudienceShell)
	if err != nil {
		return kiosk.ExitFatal, err
	}

	bridgeServer := &http.Server{
		Addr:              cfg.Bridge.Addr(),
		Handler:           api.NewRouter(bridgeAuth, router, ctl, link, Version, log).Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serve := func(name string, srv *http.Server) {
		log.Info().Str("addr", srv.Addr).Msgf("%s listening", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msgf("%s failed", name)
			_ = ctl.Dispatch(kiosk.Event{Kind: kiosk.EventFatal, Reason: name + " failed"})
		}
	}
	go serve("proxy", proxyServer)
	go serve("bridge", bridgeServer)

	monitor := services.NewConnectivityMonitor(
		services.NewHTTPProber(cfg.Network.ProbeURL, cfg.Network.ProbeTimeout()),
		cfg.Network.PollInterval(),
		func(online bool) {
			if online {
				router.GoOnline()
			} else {
				router.GoOffline()
			}
		},
		log,
	)
	router.SetConnectivity(monitor)
	monitor.Start()

	ctl.Arm()

	var shellCmd *exec.Cmd
	if len(cfg.Shell.Command) > 0 {
		shellCmd, err = startShell(cfg, uiToken, shellToken, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to start shell")
			_ = ctl.Dispatch(kiosk.Event{Kind: kiosk.EventFatal, Reason: "shell start failed"})
		}
	} else {
		log.Info().Str("bridge", "http://"+cfg.Bridge.Addr()).Msg("waiting for an external shell")
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("signal received")
			_ = ctl.Dispatch(kiosk.Event{Kind: kiosk.EventForcedExit, Reason: "signal " + s.String()})
		case <-ctx.Done():
		}
	}()

	<-ctx.Done()
	log.Info().Int("code", term.code).Msg("shutting down")
	monitor.Stop()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	_ = bridgeServer.Shutdown(shutdownCtx)
	_ = proxyServer.Shutdown(shutdownCtx)

	if shellCmd != nil && shellCmd.Process != nil {
		_ = shellCmd.Process.Signal(syscall.SIGTERM)
	}

	log.Info().Msg("examkiosk stopped")
	return term.code, nil
}

// startShell launches the native window process and hands it the bridge
// coordinates through its environment
func startShell(cfg *config.Config, uiToken, shellToken string, log zerolog.Logger) (*exec.Cmd, error) {
	cmd := exec.Command(cfg.Shell.Command[0], cfg.Shell.Command[1:]...)
	cmd.Env = append(os.Environ(),
		"KIOSK_BRIDGE_URL=http://"+cfg.Bridge.Addr(),
		"KIOSK_BRIDGE_TOKEN="+uiToken,
		"KIOSK_SHELL_TOKEN="+shellToken,
		"KIOSK_PROXY_URL=http://"+cfg.Proxy.Addr(),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	log.Info().Int("pid", cmd.Process.Pid).Str("command", cfg.Shell.Command[0]).Msg("shell started")

	go func() {
		err := cmd.Wait()
		log.Info().Err(err).Msg("shell exited")
	}()
	return cmd, nil
}
