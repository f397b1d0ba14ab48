package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sysinspect/sysinspect/internal/master"
	"github.com/sysinspect/sysinspect/pkg/cliutil"
	"github.com/sysinspect/sysinspect/pkg/server"
)

func main() {
	os.Exit(cliutil.Run(newRootCommand()))
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sysinspect-master",
		Short: "runs the sysinspect master daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaster(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/sysinspect/master.toml", "path to the master TOML config")
	return cmd
}

func runMaster(configPath string) error {
	cfg, err := master.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load master config: %w", err)
	}
	if err := cfg.Log.SetupLogging(); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	lg := cfg.Log.GetLogger()

	m, err := master.New(cfg, lg)
	if err != nil {
		return fmt.Errorf("start master: %w", err)
	}

	ctx := server.SetupSignalContext(context.Background())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Shutdown(shutdownCtx); err != nil {
			lg.Sugar().Errorf("master shutdown: %v", err)
		}
	}()

	return m.Serve()
}
