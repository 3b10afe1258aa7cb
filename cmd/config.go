package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "supportd"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage supportd configuration.

Running bare 'supportd config' is the same as 'supportd config show'.`,
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

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# supportd configuration
# See: supportd config show (for effective values and sources)

# State/data directory (default: ~/.config/supportd)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/supportd/supportd.db)
# db_path: {{ .DBPath }}

api:
  # HTTP API port (default: 8080)
  port: {{ .APIPort }}

anthropic:
  # API key for intent classification (or SUPPORTD_ANTHROPIC_API_KEY / ANTHROPIC_API_KEY)
  api_key: ""
  model: "{{ .AnthropicModel }}"

pipeline:
  # Below this confidence every message goes to human review
  confidence_threshold: {{ .ConfidenceThreshold }}
  # Mailbox poll cadence
  poll_interval: "{{ .PollInterval }}"

risk:
  # Below this classification confidence a request is at least medium risk
  confidence_medium: {{ .RiskConfidenceMedium }}
  # Amounts (in dollars) that escalate a request to medium and high risk
  amount_medium: {{ .RiskAmountMedium }}
  amount_high: {{ .RiskAmountHigh }}

refund:
  # Auto-approve only when the fraud score is at or below this
  auto_approve_score: {{ .AutoApproveScore }}
  # ...and the amount is at or below this many cents
  auto_approve_amount_cents: {{ .AutoApproveAmountCents }}

notify:
  recipients: []
  urgent_recipients: []

smtp:
  primary:
    host: ""
    port: 587
    username: ""
    password: ""
    from: ""
  fallback:
    host: ""
    port: 587
    username: ""
    password: ""
    from: ""

slack:
  # Incoming webhook URL; leave empty to disable Slack notifications
  webhook_url: ""
  channel: ""
  urgent_channel: ""
`

type configTemplateData struct {
	StateDir               string
	DBPath                 string
	APIPort                int
	AnthropicModel         string
	ConfidenceThreshold    float64
	PollInterval           string
	RiskConfidenceMedium   float64
	RiskAmountMedium       float64
	RiskAmountHigh         float64
	AutoApproveScore       float64
	AutoApproveAmountCents int64
}

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

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:               viper.GetString("state_dir"),
		DBPath:                 viper.GetString("db_path"),
		APIPort:                viper.GetInt("api.port"),
		AnthropicModel:         viper.GetString("anthropic.model"),
		ConfidenceThreshold:    viper.GetFloat64("pipeline.confidence_threshold"),
		PollInterval:           viper.GetString("pipeline.poll_interval"),
		RiskConfidenceMedium:   viper.GetFloat64("risk.confidence_medium"),
		RiskAmountMedium:       viper.GetFloat64("risk.amount_medium"),
		RiskAmountHigh:         viper.GetFloat64("risk.amount_high"),
		AutoApproveScore:       viper.GetFloat64("refund.auto_approve_score"),
		AutoApproveAmountCents: viper.GetInt64("refund.auto_approve_amount_cents"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "SUPPORTD_STATE_DIR"},
	{Key: "db_path", EnvVar: "SUPPORTD_DB_PATH"},
	{Key: "api.port", EnvVar: "SUPPORTD_API_PORT"},
	{Key: "anthropic.model", EnvVar: "SUPPORTD_ANTHROPIC_MODEL"},
	{Key: "pipeline.confidence_threshold", EnvVar: "SUPPORTD_PIPELINE_CONFIDENCE_THRESHOLD"},
	{Key: "pipeline.poll_interval", EnvVar: "SUPPORTD_PIPELINE_POLL_INTERVAL"},
	{Key: "risk.confidence_medium", EnvVar: "SUPPORTD_RISK_CONFIDENCE_MEDIUM"},
	{Key: "risk.amount_medium", EnvVar: "SUPPORTD_RISK_AMOUNT_MEDIUM"},
	{Key: "risk.amount_high", EnvVar: "SUPPORTD_RISK_AMOUNT_HIGH"},
	{Key: "refund.auto_approve_score", EnvVar: "SUPPORTD_REFUND_AUTO_APPROVE_SCORE"},
	{Key: "refund.auto_approve_amount_cents", EnvVar: "SUPPORTD_REFUND_AUTO_APPROVE_AMOUNT_CENTS"},
	{Key: "smtp.primary.host", EnvVar: "SUPPORTD_SMTP_PRIMARY_HOST"},
	{Key: "slack.webhook_url", EnvVar: "SUPPORTD_SLACK_WEBHOOK_URL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-34s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'supportd config init' first)", cfgPath)
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
