package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sysinspect/sysinspect/internal/minion"
	"github.com/sysinspect/sysinspect/pkg/cliutil"
	"github.com/sysinspect/sysinspect/pkg/server"
)

func main() {
	os.Exit(cliutil.Run(newRootCommand()))
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sysinspect-minion",
		Short: "runs the sysinspect minion agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMinion(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/sysinspect/minion.toml", "path to the minion TOML config")
	return cmd
}

func runMinion(configPath string) error {
	cfg, err := minion.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load minion config: %w", err)
	}
	if err := cfg.Log.SetupLogging(); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	lg := cfg.Log.GetLogger()

	interval, err := cfg.ReconnectIntervalBounds()
	if err != nil {
		return fmt.Errorf("parse reconnect interval: %w", err)
	}

	ctx := server.SetupSignalContext(context.Background())

	// Outer supervisor: restart the instance loop on a general reconnect
	// request, honouring the configured reconnect interval. An
	// administrative exit (unknown key, duplicate session, or registration
	// acceptance) requires an operator decision, so the process exits.
	for ctx.Err() == nil {
		m, err := minion.Open(minion.Options{
			ID:                cfg.ID,
			StateDir:          cfg.StateDir,
			Addr:              cfg.MasterAddr,
			ReconnectInterval: interval,
			Runtime:           minion.NoRuntime{},
			Traits:            minion.SystemTraits,
			Logger:            lg,
		})
		if err != nil {
			return fmt.Errorf("open minion instance: %w", err)
		}

		runErr := m.Run(ctx)
		switch {
		case runErr == nil, errors.Is(runErr, context.Canceled), ctx.Err() != nil:
			return nil
		case errors.Is(runErr, minion.ErrAdministrativeExit):
			return fmt.Errorf("minion requires operator action: %w", runErr)
		case errors.Is(runErr, minion.ErrReconnectRequested):
			lg.Sugar().Infof("reconnecting in response to master request")
			sleepReconnectInterval(ctx, interval.Min, interval.Max)
		default:
			lg.Sugar().Warnf("minion instance loop ended: %v", runErr)
			sleepReconnectInterval(ctx, interval.Min, interval.Max)
		}
	}
	return nil
}

func sleepReconnectInterval(ctx context.Context, min, max time.Duration) {
	d := min
	if max > min {
		d = min + time.Duration(rand.Int63n(int64(max-min)))
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
