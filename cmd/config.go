package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "arzu"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage arzu configuration.

Running bare 'arzu config' is the same as 'arzu config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

const configTemplate = `# arzu configuration
# See: arzu config show (for effective values and sources)

# State/data directory (default: ~/.config/arzu)
# state_dir: {{ str "state_dir" }}

# User id the CLI acts as
user: {{ int "user" }}

db:
  # sqlite or postgres
  driver: "{{ str "db.driver" }}"
  path: "{{ str "db.path" }}"
  # Postgres connection URL, used when driver is postgres
  url: "{{ str "db.url" }}"

# Redis URL for cross-process session locks; empty uses in-process locks
redis:
  url: "{{ str "redis.url" }}"

zombie:
  # Open periods older than this are force-closed as interrupted
  threshold: {{ dur "zombie.threshold" }}
  # Open sessions idle longer than this are closed; 0 disables
  session_threshold: {{ dur "zombie.session_threshold" }}
  interval: {{ dur "zombie.interval" }}
  budget: {{ dur "zombie.budget" }}
  batch_size: {{ int "zombie.batch_size" }}

stats:
  # Closed periods longer than this many minutes are excluded
  outlier_ceiling: {{ float "stats.outlier_ceiling" }}
  # IANA zone defining report days and windows, or Local
  timezone: "{{ str "stats.timezone" }}"
  # Fixed offset the peak-hours histogram is bucketed in
  histogram_offset: "{{ str "stats.histogram_offset" }}"

log:
  level: "{{ str "log.level" }}"
  # text or json
  format: "{{ str "log.format" }}"
`

// configTmpl renders the effective viper values into configTemplate.
var configTmpl = template.Must(template.New("config").Funcs(template.FuncMap{
	"str":   viper.GetString,
	"int":   viper.GetInt64,
	"float": viper.GetFloat64,
	"dur":   func(key string) string { return viper.GetDuration(key).String() },
}).Parse(configTemplate))

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	var buf bytes.Buffer
	if err := configTmpl.Execute(&buf, nil); err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// shownKeys are the keys 'config show' lists. anthropic.api_key is omitted.
var shownKeys = []string{
	"state_dir",
	"user",
	"db.driver",
	"db.path",
	"db.url",
	"redis.url",
	"zombie.threshold",
	"zombie.session_threshold",
	"zombie.interval",
	"zombie.budget",
	"zombie.batch_size",
	"stats.outlier_ceiling",
	"stats.timezone",
	"stats.histogram_offset",
	"stats.categories",
	"anthropic.model",
	"port",
	"log.level",
	"log.format",
}

// envName is the variable AutomaticEnv consults for key.
func envName(key string) string {
	return "ARZU_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	file := viper.New()
	file.SetConfigFile(cfgPath)
	if err := file.ReadInConfig(); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Key", "Value", "Source"})
	for _, key := range shownKeys {
		table.Append([]string{key, fmt.Sprint(viper.Get(key)), configSource(key, file)})
	}
	return table.Render()
}

// configSource reports which layer supplies key: env, file or default.
func configSource(key string, file *viper.Viper) string {
	if env := envName(key); os.Getenv(env) != "" {
		return "env: " + env
	}
	if file.InConfig(key) {
		return "file"
	}
	return "default"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'arzu config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
