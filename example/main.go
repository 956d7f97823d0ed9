// Command netlib is a demo server and client for the netlib framing library.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	addr       string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "netlib",
		Short: "Length-prefixed TCP messaging demo",
		Long: `Run a netlib server or talk to one.

Every message on the wire is a 4-byte little-endian length followed by the payload.
The demo payload is a one-byte request/response type followed by free-form data.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a TOML config file")
	cmd.PersistentFlags().StringVar(&flags.addr, "addr", "", "server address (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn, error or off (overrides config)")

	cmd.AddCommand(newServeCmd(flags), newSendCmd(flags))
	return cmd
}

// resolveConfig loads the config file and applies flag overrides.
func (f *rootFlags) resolveConfig() (config, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return config{}, err
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.validate()
}
