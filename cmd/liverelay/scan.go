package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/live-relay/backend/internal/session"
	"github.com/live-relay/backend/internal/watchdog"
)

var (
	scanInterval time.Duration
	scanPolicy   string
)

var scanCmd = &cobra.Command{
	Use:   "scan [host...]",
	Short: "Keep sessions open for a fixed list of broadcasters",
	Long: `Scan watches a static host list, opening a session for every host that
is offline on each interval and recording its events to the sink.

Hosts given as arguments replace watchdog.hosts from the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("interval") {
			a.cfg.Watchdog.Interval = scanInterval
		}
		if cmd.Flags().Changed("policy") {
			a.cfg.Watchdog.OnlinePolicy = scanPolicy
		}

		hosts := a.cfg.Watchdog.Hosts
		if len(args) > 0 {
			hosts = args
		}
		if len(hosts) == 0 {
			return errors.New("no hosts to watch: pass them as arguments or set watchdog.hosts")
		}

		p, err := a.provider()
		if err != nil {
			return err
		}
		wd, err := a.watchdog(a.opener(p), hosts)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		wd.Start(ctx)
		return nil
	},
}

func (a *app) watchdog(opener *session.Opener, hosts []string) (*watchdog.Watchdog, error) {
	policy, err := watchdog.ParsePolicy(a.cfg.Watchdog.OnlinePolicy)
	if err != nil {
		return nil, err
	}
	return watchdog.New(opener, watchdog.Config{
		Hosts:    hosts,
		Interval: a.cfg.Watchdog.Interval,
		Policy:   policy,
		Recorder: a.recorderOrNil(),
		Logger:   a.logger,
	}), nil
}

func init() {
	scanCmd.Flags().DurationVar(&scanInterval, "interval", watchdog.DefaultInterval, "Reconnect interval")
	scanCmd.Flags().StringVar(&scanPolicy, "policy", string(watchdog.PolicyEager), "Online policy: eager or confirmed")
	rootCmd.AddCommand(scanCmd)
}
