// Command adsync extracts Google Ads reports and loads them into a
// warehouse, a database, a message broker or an object store.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Link every sink so destination.type can select any of them
	_ "github.com/ajitpratap0/adsync/pkg/sink/all"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newViper reads flag values and ADSYNC_* environment variables; flag
// --customer-ids maps to ADSYNC_CUSTOMER_IDS
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ADSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCommand() *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:   "adsync",
		Short: "adsync - incremental Google Ads extraction",
		Long: `adsync extracts Google Ads report resources with GAQL and loads them into a
destination. Later runs only re-read the dates that can still change.

Settings come from a YAML file (--config) and can be overridden with flags or
ADSYNC_* environment variables, e.g. ADSYNC_CUSTOMER_IDS=1234567890.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the YAML configuration file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.StringSlice("customer-ids", nil, "Customer ids to extract, without dashes")
	flags.String("start-date", "", "Earliest date to extract, YYYY-MM-DD")
	flags.StringSlice("resources", nil, "Resources to extract; the default set when empty")
	flags.String("first-run", "", "First run mode: auto, true or false")
	flags.Int("conversion-window-days", 0, "Days re-read before the start date on incremental runs")
	flags.Int("lookback-days", 0, "Days covered by the first run of sliced resources")
	flags.Int("concurrency", 0, "Resources extracted in parallel")
	flags.String("destination", "", "Sink type, overrides destination.type")
	flags.String("schema-dir", "", "Directory of schema files replacing the built-in ones")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "adsync v%s\n", version)
				fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
				fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
		newResourcesCommand(v),
		newPlanCommand(v),
		newRunCommand(v),
		newServeCommand(v),
	)
	return root
}
