package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment prefix for overrides, e.g. PLANLOOP_LOOP_MAX_REPLAN_ATTEMPTS.
const EnvPrefix = "PLANLOOP"

// Config is the resolved planloop configuration. It is built once at startup
// and handed to components by value.
type Config struct {
	Loop          LoopConfig          `mapstructure:"loop" yaml:"loop"`
	Monitor       MonitorConfig       `mapstructure:"monitor" yaml:"monitor"`
	Refine        RefineConfig        `mapstructure:"refine" yaml:"refine"`
	Models        ModelsConfig        `mapstructure:"models" yaml:"models"`
	Backend       BackendConfig       `mapstructure:"backend" yaml:"backend"`
	Context       ContextConfig       `mapstructure:"context" yaml:"context"`
	Workspace     WorkspaceConfig     `mapstructure:"workspace" yaml:"workspace"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Audit         AuditConfig         `mapstructure:"audit" yaml:"audit"`
	History       HistoryConfig       `mapstructure:"history" yaml:"history"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
}

// LoopConfig bounds the control loop.
type LoopConfig struct {
	// MaxRefinementIterations caps VALIDATE -> REFINE transitions per plan.
	MaxRefinementIterations int `mapstructure:"max_refinement_iterations" yaml:"max_refinement_iterations"`
	// MaxReplanAttempts caps MONITOR -> REPLAN transitions per request.
	MaxReplanAttempts int `mapstructure:"max_replan_attempts" yaml:"max_replan_attempts"`
	// QuickFix enables one corrective tool call after a failed verification.
	QuickFix bool `mapstructure:"quick_fix" yaml:"quick_fix"`
	// HaltOnFailure stops execution when a step fails and cannot be fixed.
	HaltOnFailure bool `mapstructure:"halt_on_failure" yaml:"halt_on_failure"`
}

// MonitorConfig controls failure classification.
type MonitorConfig struct {
	// ReplanThreshold triggers a replan when the success rate falls below it.
	ReplanThreshold  float64 `mapstructure:"replan_threshold" yaml:"replan_threshold"`
	EarlyTermination bool    `mapstructure:"early_termination" yaml:"early_termination"`
	HistorySize      int     `mapstructure:"history_size" yaml:"history_size"`
}

// RefineConfig controls the plan refiner.
type RefineConfig struct {
	HistorySize       int `mapstructure:"history_size" yaml:"history_size"`
	MinResponseLength int `mapstructure:"min_response_length" yaml:"min_response_length"`
}

// ModelRole names a model and its generation options.
type ModelRole struct {
	Name        string  `mapstructure:"name" yaml:"name"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	NumPredict  int     `mapstructure:"num_predict" yaml:"num_predict"`
}

// ModelsConfig maps loop roles to models.
type ModelsConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Orchestrator ModelRole     `mapstructure:"orchestrator" yaml:"orchestrator"`
	Coder        ModelRole     `mapstructure:"coder" yaml:"coder"`
	Formatter    ModelRole     `mapstructure:"formatter" yaml:"formatter"`
	// Reasoner is the fallback used when the orchestrator call fails. Empty disables it.
	Reasoner ModelRole `mapstructure:"reasoner" yaml:"reasoner"`
}

// BackendConfig selects the model-serving backend.
type BackendConfig struct {
	Type   string        `mapstructure:"type" yaml:"type"`
	Ollama OllamaBackend `mapstructure:"ollama" yaml:"ollama"`
	Exec   ExecBackend   `mapstructure:"exec" yaml:"exec"`
	Mock   MockBackend   `mapstructure:"mock" yaml:"mock"`
}

type OllamaBackend struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type ExecBackend struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

type MockBackend struct {
	Script string `mapstructure:"script" yaml:"script"`
}

// ContextConfig bounds how much of the workspace is fed into prompts.
type ContextConfig struct {
	Include       []string `mapstructure:"include" yaml:"include"`
	Exclude       []string `mapstructure:"exclude" yaml:"exclude"`
	MaxFiles      int      `mapstructure:"max_files" yaml:"max_files"`
	MaxFileBytes  int      `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`
	MaxTotalBytes int      `mapstructure:"max_total_bytes" yaml:"max_total_bytes"`
}

type WorkspaceConfig struct {
	// Protected lists workspace-relative globs tools may never write.
	Protected []string `mapstructure:"protected" yaml:"protected"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// File is relative to the workspace state dir when not absolute. Empty logs to stderr.
	File string `mapstructure:"file" yaml:"file"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
}

type NotificationsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Loop: LoopConfig{
			MaxRefinementIterations: 2,
			MaxReplanAttempts:       1,
			QuickFix:                true,
			HaltOnFailure:           true,
		},
		Monitor: MonitorConfig{
			ReplanThreshold:  0.5,
			EarlyTermination: true,
			HistorySize:      50,
		},
		Refine: RefineConfig{
			HistorySize:       50,
			MinResponseLength: 50,
		},
		Models: ModelsConfig{
			Timeout:      2 * time.Minute,
			Orchestrator: ModelRole{Name: "orchestrator", Temperature: 0.2, NumPredict: 2048},
			Coder:        ModelRole{Name: "coder", Temperature: 0.1, NumPredict: 2048},
			Formatter:    ModelRole{Name: "formatter", Temperature: 0.0, NumPredict: 1024},
			Reasoner:     ModelRole{Name: "reasoner", Temperature: 0.3, NumPredict: 4096},
		},
		Backend: BackendConfig{
			Type:   "ollama",
			Ollama: OllamaBackend{BaseURL: "http://localhost:11434"},
			Exec:   ExecBackend{Args: []string{}},
		},
		Context: ContextConfig{
			Include:       []string{"**/*"},
			Exclude:       []string{".git/**", ".planloop/**", "node_modules/**", "vendor/**", "**/*.sqlite"},
			MaxFiles:      20,
			MaxFileBytes:  4000,
			MaxTotalBytes: 32000,
		},
		Workspace: WorkspaceConfig{
			Protected: []string{".git/**", ".planloop/**"},
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "planloop.log",
		},
		Audit:         AuditConfig{Enabled: true},
		History:       HistoryConfig{Enabled: true},
		Notifications: NotificationsConfig{Enabled: false},
	}
}

// SetDefaults registers Default() with v so partial config files inherit it.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("loop.max_refinement_iterations", d.Loop.MaxRefinementIterations)
	v.SetDefault("loop.max_replan_attempts", d.Loop.MaxReplanAttempts)
	v.SetDefault("loop.quick_fix", d.Loop.QuickFix)
	v.SetDefault("loop.halt_on_failure", d.Loop.HaltOnFailure)

	v.SetDefault("monitor.replan_threshold", d.Monitor.ReplanThreshold)
	v.SetDefault("monitor.early_termination", d.Monitor.EarlyTermination)
	v.SetDefault("monitor.history_size", d.Monitor.HistorySize)

	v.SetDefault("refine.history_size", d.Refine.HistorySize)
	v.SetDefault("refine.min_response_length", d.Refine.MinResponseLength)

	v.SetDefault("models.timeout", d.Models.Timeout)
	setRoleDefaults(v, "models.orchestrator", d.Models.Orchestrator)
	setRoleDefaults(v, "models.coder", d.Models.Coder)
	setRoleDefaults(v, "models.formatter", d.Models.Formatter)
	setRoleDefaults(v, "models.reasoner", d.Models.Reasoner)

	v.SetDefault("backend.type", d.Backend.Type)
	v.SetDefault("backend.ollama.base_url", d.Backend.Ollama.BaseURL)
	v.SetDefault("backend.exec.command", d.Backend.Exec.Command)
	v.SetDefault("backend.exec.args", d.Backend.Exec.Args)
	v.SetDefault("backend.mock.script", d.Backend.Mock.Script)

	v.SetDefault("context.include", d.Context.Include)
	v.SetDefault("context.exclude", d.Context.Exclude)
	v.SetDefault("context.max_files", d.Context.MaxFiles)
	v.SetDefault("context.max_file_bytes", d.Context.MaxFileBytes)
	v.SetDefault("context.max_total_bytes", d.Context.MaxTotalBytes)

	v.SetDefault("workspace.protected", d.Workspace.Protected)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.db_path", d.Audit.DBPath)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.db_path", d.History.DBPath)
	v.SetDefault("notifications.enabled", d.Notifications.Enabled)
}

func setRoleDefaults(v *viper.Viper, prefix string, role ModelRole) {
	v.SetDefault(prefix+".name", role.Name)
	v.SetDefault(prefix+".temperature", role.Temperature)
	v.SetDefault(prefix+".num_predict", role.NumPredict)
}

// NewViper returns a viper instance with defaults, environment overrides and,
// when present, the config file loaded. An explicit configFile must exist;
// otherwise <stateDir>/config.yaml is read if it exists.
func NewViper(configFile string, stateDir string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
		return v, nil
	}

	if stateDir != "" {
		path := filepath.Join(stateDir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, ValidationErrors(errs)
	}
	return cfg, nil
}

// WriteDefault writes Default() as YAML to path unless the file already exists.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("ensure config dir: %w", err)
	}
	cfg := Default()
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}
