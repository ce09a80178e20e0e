package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/display"
	"github.com/teranos/nexus/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage nexus configuration",
	Long: `am: manage nexus configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (NEXUS_* prefix, provider keys as NEXUS_PROVIDER_<NAME>_API_KEY)
2. Project config (./am.toml, searched up from the working directory)
3. User config (~/.nexus/am.toml)
4. System config (/etc/nexus/config.toml)
5. Default values

Examples:
  nexus am init                   # Write a starter ./am.toml
  nexus am show                   # Show effective configuration
  nexus am show --format json     # Show configuration as JSON
  nexus am validate               # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the effective nexus configuration from all sources. Credentials are redacted.",
	Args:  cobra.NoArgs,
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmValidate,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter am.toml",
	Long: `Write a minimal, valid project configuration with one on-demand quote
engine. An existing file is rotated into .back1/.back2/.back3 when --force
is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAmInit,
}

var (
	configFormat string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file (a backup is kept)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	format := configFormat
	if display.ShouldOutputJSON(cmd) {
		format = "json"
	}

	w := cmd.OutOrStdout()
	switch format {
	case "json":
		return display.WriteJSON(w, cfg.Redacted())
	case "yaml":
		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(w, "# nexus configuration\n%s", data)
		return nil
	case "toml":
		fmt.Fprintln(w, "# nexus configuration")
		return cfg.WriteTOML(w)
	default:
		return errors.NewValidationError("format", "unsupported format %q (supported: toml, json, yaml)", format)
	}
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration is valid (%d engines)\n", len(cfg.Engines))
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "am.toml"
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(abs); err == nil && !initForce {
		return errors.WithHint(errors.Newf("%s already exists", abs), "use --force to overwrite it; the old file is kept as .back1")
	}

	if err := am.WriteProjectConfig(abs, am.StarterConfig()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), pterm.Success.Sprintf("Wrote %s", abs))
	return nil
}
