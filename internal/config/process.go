package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LogLevel selects the minimum severity the process logger emits.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// ProcessServerConfig controls the local HTTP server and process logging.
type ProcessServerConfig struct {
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`
}

// ProcessToolServerConfig launches the stdio MCP tool-server child.
type ProcessToolServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// ProcessVoiceHostConfig launches and addresses the voice-host subprocess.
type ProcessVoiceHostConfig struct {
	Disabled       bool     `yaml:"disabled"`
	Executable     string   `yaml:"executable"`
	Args           []string `yaml:"args"`
	PreferredPort  int      `yaml:"preferred_port"`
	SessionFile    string   `yaml:"session_file"`
	StartupTimeout string   `yaml:"startup_timeout"`
	ASREngine      string   `yaml:"asr_engine"`
	TTSEngine      string   `yaml:"tts_engine"`
	TTSVoice       string   `yaml:"tts_voice"`
}

// ProcessConfig is the YAML document read once at process start. It carries
// the wiring knobs [ProcessConfig] needs before the runtime-adjustable
// [AppSettings] snapshot is even loaded: where that snapshot lives, where
// the tool-group mapping and audit log live, and how to reach the
// subprocess supervisors. Unlike AppSettings this is not hot-reloaded;
// changing it requires a restart.
type ProcessConfig struct {
	Server ProcessServerConfig `yaml:"server"`

	SettingsPath         string `yaml:"settings_path"`
	ToolGroupMappingPath string `yaml:"tool_group_mapping_path"`
	AuditLogPath         string `yaml:"audit_log_path"`

	ToolServer ProcessToolServerConfig `yaml:"tool_server"`
	VoiceHost  ProcessVoiceHostConfig  `yaml:"voice_host"`
}

// DefaultProcessConfig returns the configuration written the first time a
// missing process config file is encountered: local-only HTTP server, a
// settings file and audit log at relative paths (resolved against the
// working directory), no tool server or
// voice host command configured.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		Server: ProcessServerConfig{
			ListenAddr: "127.0.0.1:8787",
			LogLevel:   LogInfo,
		},
		SettingsPath: "settings.json",
		AuditLogPath: "audit.log",
	}
}

// LoadProcess reads the YAML process configuration at path. If the file
// does not exist, it writes [DefaultProcessConfig] to path and returns that
// default, mirroring [Load]'s first-run behavior for the settings snapshot.
func LoadProcess(path string) (ProcessConfig, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		def := DefaultProcessConfig()
		if werr := SaveProcess(path, def); werr != nil {
			return def, fmt.Errorf("config: write default process config %q: %w", path, werr)
		}
		return def, nil
	}
	if err != nil {
		return ProcessConfig{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	var cfg ProcessConfig
	dec := yamlDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return ProcessConfig{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// SaveProcess writes cfg to path as YAML.
func SaveProcess(path string, cfg ProcessConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %q: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %q: %w", path, err)
	}
	return enc.Close()
}
