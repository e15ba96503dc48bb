package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/signalworks/nucleation/internal/config"
)

type cliState struct {
	configPath string
	cfg        *config.Config
}

var (
	osExit                 = os.Exit
	stderrWriter io.Writer = os.Stderr
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderrWriter, err)
		osExit(1)
	}
}

func newRootCmd() *cobra.Command {
	st := &cliState{configPath: config.DefaultPath}

	root := &cobra.Command{
		Use:           "nucleate",
		Short:         "Simulate phase transitions and benchmark early-warning detectors",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&st.configPath, "config", st.configPath, "path to config file")

	root.AddCommand(newSimulateCmd(st))
	root.AddCommand(newCompareCmd(st))
	root.AddCommand(newAblateCmd(st))
	root.AddCommand(newRealCmd(st))
	root.AddCommand(newHistoryCmd(st))
	return root
}

// load resolves the config, falling back to built-in defaults when the
// default config file is simply absent.
func (st *cliState) load() error {
	cfg, err := config.Load(st.configPath)
	if err != nil {
		if st.configPath == config.DefaultPath && errors.Is(err, os.ErrNotExist) {
			st.cfg = &config.Config{
				Experiment: config.ExperimentConfig{Simulations: 100, Tolerance: 50},
				Storage:    config.StorageConfig{Type: "sqlite"},
				Server:     config.ServerConfig{Addr: ":8080"},
			}
			return nil
		}
		return err
	}
	st.cfg = cfg
	return nil
}
