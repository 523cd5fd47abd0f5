package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "DVFS"

	keyPlatform       = "platform"
	keyScenario       = "scenario"
	keyMetricsAddr    = "metrics-bind-address"
	keySampleInterval = "sample-interval"
	keyReferenceClock = "reference-clock-khz"
	keyScaling        = "enable-scaling"
	keyConfigFile     = "config"
)

// AgentConfig holds the settings of the dvfs agent binary.
type AgentConfig struct {
	PlatformFile      string
	ScenarioFile      string
	MetricsAddr       string
	SampleInterval    time.Duration
	ReferenceClockKHz uint32
	EnableScaling     bool
}

// BindAgentFlags registers the agent flags on fs.
func BindAgentFlags(fs *pflag.FlagSet) {
	fs.String(keyConfigFile, "", "Optional YAML file holding any of the settings below.")
	fs.String(keyPlatform, "", "Platform description file (YAML or JSON).")
	fs.String(keyScenario, "", "Scenario file replayed against the engine.")
	fs.String(keyMetricsAddr, ":10001", "The address the metric endpoint binds to.")
	fs.Duration(keySampleInterval, time.Second, "Interval between engine telemetry samples.")
	fs.Uint32(keyReferenceClock, 26000, "Frequency of the simulated reference clock in kHz.")
	fs.Bool(keyScaling, true, "Run the load driven scaling workers.")
}

// LoadAgentConfig resolves settings from flags, DVFS_* environment variables and the optional config file,
// in that order of precedence.
func LoadAgentConfig(fs *pflag.FlagSet) (AgentConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return AgentConfig{}, fmt.Errorf("binding flags: %w", err)
	}

	if file := v.GetString(keyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return AgentConfig{}, fmt.Errorf("reading agent config: %w", err)
		}
	}

	cfg := AgentConfig{
		PlatformFile:      v.GetString(keyPlatform),
		ScenarioFile:      v.GetString(keyScenario),
		MetricsAddr:       v.GetString(keyMetricsAddr),
		SampleInterval:    v.GetDuration(keySampleInterval),
		ReferenceClockKHz: v.GetUint32(keyReferenceClock),
		EnableScaling:     v.GetBool(keyScaling),
	}
	if cfg.PlatformFile == "" {
		return AgentConfig{}, fmt.Errorf("--%s is required", keyPlatform)
	}
	if cfg.ReferenceClockKHz == 0 {
		return AgentConfig{}, fmt.Errorf("--%s must be positive", keyReferenceClock)
	}
	return cfg, nil
}
