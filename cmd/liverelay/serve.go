package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/live-relay/backend/internal/watchdog"
	"github.com/live-relay/backend/internal/ws"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interactive websocket front",
	Long: `Serve the websocket front, the static client and the operational API.

Each websocket client binds one session at a time with a setUniqueId
message. Hosts listed under watchdog.hosts are kept open alongside and
reported at /api/hosts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if servePort > 0 {
			a.cfg.Server.Port = servePort
		}

		p, err := a.provider()
		if err != nil {
			return err
		}
		opener := a.opener(p)

		ctx, cancel := signalContext()
		defer cancel()

		opts := ws.Options{
			Opener:            opener,
			Sessions:          a.registry,
			Recorder:          a.recorderOrNil(),
			StaticDir:         a.cfg.Server.StaticDir,
			AllowedOrigins:    a.cfg.Server.AllowedOrigins,
			StatisticInterval: a.cfg.Front.StatisticInterval,
			SendBuffer:        a.cfg.Front.SendBuffer,
			Logger:            a.logger,
		}

		var wd *watchdog.Watchdog
		if len(a.cfg.Watchdog.Hosts) > 0 {
			wd, err = a.watchdog(opener, a.cfg.Watchdog.Hosts)
			if err != nil {
				return err
			}
			opts.Hosts = wd
		}

		done := make(chan struct{})
		if wd != nil {
			go func() {
				defer close(done)
				wd.Start(ctx)
			}()
		} else {
			close(done)
		}

		addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
		a.logger.Info("Server running", "url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port))
		err = ws.NewServer(opts).ListenAndServe(ctx, addr)
		cancel()
		<-done
		a.logger.Info("Shut down")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Override server port")
	rootCmd.AddCommand(serveCmd)
}
