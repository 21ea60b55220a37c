package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/namithm70/fitness-sub000/internal/adapters/capture"
	"github.com/namithm70/fitness-sub000/internal/adapters/record"
	"github.com/namithm70/fitness-sub000/internal/adapters/rtc"
	"github.com/namithm70/fitness-sub000/internal/adapters/ws"
	"github.com/namithm70/fitness-sub000/internal/app/orch"
	"github.com/namithm70/fitness-sub000/internal/config"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/media"
	"github.com/namithm70/fitness-sub000/internal/peer"
	"github.com/namithm70/fitness-sub000/internal/permissions"
	"github.com/namithm70/fitness-sub000/internal/presence"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/namithm70/fitness-sub000/internal/store"
	control "github.com/namithm70/fitness-sub000/internal/transport/http"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

const reconnectPeriod = 3 * time.Second

var (
	userFlag  string
	recordDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the relay and serve the local control API",
	Args:  cobra.NoArgs,
	RunE:  runClient,
}

func init() {
	runCmd.Flags().StringVarP(&userFlag, "user", "u", "", "user id, overrides user.id from the config")
	runCmd.Flags().StringVar(&recordDir, "record-dir", "", "write remote media of every call into this directory")
	rootCmd.AddCommand(runCmd)
}

func runClient(cmd *cobra.Command, _ []string) error {
	v, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if userFlag != "" {
		cfg.User.ID = domain.UserID(userFlag)
	}
	user, err := domain.NewUser(cfg.User.ID, cfg.User.DisplayName)
	if err != nil {
		return errors.New("user.id must be set in the config or with --user")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	history, err := store.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer history.Close()

	settings := config.NewMediaStore(configFile, cfg.Media)
	settings.Watch(v)

	factory, err := rtc.NewFactory(rtc.Config{
		ICEServers:          cfg.ICE.Servers,
		DisconnectedTimeout: cfg.ICE.DisconnectedTimeout,
		FailedTimeout:       cfg.ICE.FailedTimeout,
		KeepAliveInterval:   rtc.DefaultConfig().KeepAliveInterval,
	})
	if err != nil {
		return err
	}

	clk := clock.New()
	channel := signaling.NewChannel(ws.Dialer{URL: cfg.Relay.URL}, cfg.Relay.AckTimeout)
	defer channel.Close()

	peers := peer.NewManager(factory, channel, clk)
	devices := capture.New()
	tracker := presence.NewTracker()
	unbind := tracker.Bind(channel)
	defer unbind()

	deps := orch.Deps{
		Channel:       channel,
		Gate:          permissions.NewGate(devices),
		Media:         media.NewManager(devices, peers),
		Peers:         peers,
		Presence:      tracker,
		History:       history,
		Settings:      settings.Get,
		Clock:         clk,
		AnswerTimeout: cfg.Call.AnswerTimeout,
	}
	var rec *record.Recorder
	if recordDir != "" {
		if rec, err = record.New(recordDir); err != nil {
			return err
		}
		defer rec.Flush()
		deps.OnRemoteStream = rec.Attach
	}
	calls := orch.New(deps)
	defer calls.Close()
	if rec != nil {
		calls.OnStateChange(func(s core.Snapshot) {
			if s.State == domain.StateIdle {
				rec.Flush()
			}
		})
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: control.SetupRouter(ctx, control.Deps{
			Calls:          calls,
			Presence:       tracker,
			Settings:       settings,
			History:        history,
			Devices:        devices,
			Mode:           modeFor(cfg.Debug),
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		}),
	}

	var wg conc.WaitGroup
	wg.Go(func() { keepConnected(ctx, channel, *user, clk) })
	wg.Go(func() {
		poller := presence.NewPoller(presence.HTTPRoster{BaseURL: cfg.Presence.DirectoryURL}, tracker, clk, cfg.Presence.Interval)
		poller.Run(ctx)
	})
	wg.Go(func() {
		log.Info().Str("module", "cli").Str("addr", srv.Addr).Str("user", string(user.ID)).Msg("control API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("module", "cli").Msg("control API stopped")
			cancel()
		}
	})

	<-ctx.Done()
	log.Info().Str("module", "cli").Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "cli").Msg("control API forced to shutdown")
	}
	wg.Wait()
	return nil
}

// keepConnected joins the relay and rejoins whenever the link drops.
func keepConnected(ctx context.Context, channel *signaling.Channel, user domain.User, clk clock.Clock) {
	ticker := clk.Ticker(reconnectPeriod)
	defer ticker.Stop()
	for {
		if !channel.Connected() {
			if err := channel.Connect(ctx, user); err != nil {
				log.Warn().Err(err).Str("module", "cli").Msg("relay connect failed, retrying")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func modeFor(debug bool) string {
	if debug {
		return "debug"
	}
	return "release"
}
