package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tokligence/ragflow-pipeline/internal/hooks"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/pipeline.ini"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Valves are the backend credentials the host hands to the pipeline.
type Valves struct {
	APIKey  string `yaml:"API_KEY" json:"API_KEY"`
	AgentID string `yaml:"AGENT_ID" json:"AGENT_ID" validate:"required"` // RAGFlow chat id
	Host    string `yaml:"HOST" json:"HOST" validate:"required"`
	Port    string `yaml:"PORT" json:"PORT"`
	Lang    string `yaml:"LANG" json:"LANG"`
}

// PipelineConfig describes runtime options for the pipeline daemon.
type PipelineConfig struct {
	Environment  string
	Valves       Valves
	ValvesFile   string
	PipelineID   string `validate:"required"`
	PipelineName string
	HTTPAddress  string `validate:"required"`
	// Zero leaves backend calls without a client-side timeout.
	RequestTimeout time.Duration
	Debug          bool
	LogFile        string
	LogLevel       string `validate:"oneof=debug info warn error"`
	SessionStore   string `validate:"oneof=memory sqlite postgres badger"`
	SessionDBPath  string
	SessionDSN     string
	Hooks          hooks.Config
	// BareEnv lists the unprefixed variables (HOST, PORT, ...) that filled a
	// valve no other source set.
	BareEnv []string
}

// LoadPipelineConfig reads the current environment and loads the matching
// pipeline config file. Precedence, lowest first: setting.ini defaults,
// config/<env>/pipeline.ini, the valves file, RAGFLOW_* environment
// variables. Bare API_KEY, AGENT_ID, HOST and PORT only fill valves that are
// still empty afterwards.
func LoadPipelineConfig(root string) (PipelineConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return PipelineConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return PipelineConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := PipelineConfig{
		Environment:   s.Environment,
		ValvesFile:    firstNonEmpty(os.Getenv("RAGFLOW_VALVES_FILE"), merged["valves_file"]),
		PipelineID:    firstNonEmpty(os.Getenv("RAGFLOW_PIPELINE_ID"), merged["pipeline_id"], "ragflow_pipeline"),
		PipelineName:  firstNonEmpty(os.Getenv("RAGFLOW_PIPELINE_NAME"), merged["pipeline_name"], "RagFlow Pipeline"),
		HTTPAddress:   firstNonEmpty(os.Getenv("RAGFLOW_HTTP_ADDRESS"), merged["http_address"], ":9099"),
		Debug:         parseOptionalBool(firstNonEmpty(os.Getenv("RAGFLOW_DEBUG"), merged["debug"]), true),
		LogFile:       firstNonEmpty(os.Getenv("RAGFLOW_LOG_FILE"), merged["log_file"]),
		LogLevel:      strings.ToLower(firstNonEmpty(os.Getenv("RAGFLOW_LOG_LEVEL"), merged["log_level"], "info")),
		SessionStore:  strings.ToLower(firstNonEmpty(os.Getenv("RAGFLOW_SESSION_STORE"), merged["session_store"], StoreMemory)),
		SessionDBPath: firstNonEmpty(os.Getenv("RAGFLOW_SESSION_DB_PATH"), merged["session_db_path"], DefaultSessionDBPath()),
		SessionDSN:    firstNonEmpty(os.Getenv("RAGFLOW_SESSION_DSN"), merged["session_dsn"]),
	}

	cfg.Valves = Valves{
		APIKey:  merged["api_key"],
		AgentID: merged["agent_id"],
		Host:    merged["host"],
		Port:    merged["port"],
		Lang:    merged["lang"],
	}
	if strings.TrimSpace(cfg.ValvesFile) != "" {
		fileValves, err := loadValvesFile(cfg.ValvesFile)
		if err != nil {
			return PipelineConfig{}, err
		}
		cfg.Valves = mergeValves(cfg.Valves, fileValves)
	}
	cfg.Valves = mergeValves(cfg.Valves, Valves{
		APIKey:  os.Getenv("RAGFLOW_API_KEY"),
		AgentID: os.Getenv("RAGFLOW_AGENT_ID"),
		Host:    os.Getenv("RAGFLOW_HOST"),
		Port:    os.Getenv("RAGFLOW_PORT"),
		Lang:    os.Getenv("RAGFLOW_LANG"),
	})
	for _, f := range []struct {
		name  string
		valve *string
	}{
		{"API_KEY", &cfg.Valves.APIKey},
		{"AGENT_ID", &cfg.Valves.AgentID},
		{"HOST", &cfg.Valves.Host},
		{"PORT", &cfg.Valves.Port},
	} {
		if strings.TrimSpace(*f.valve) != "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(f.name)); v != "" {
			*f.valve = v
			cfg.BareEnv = append(cfg.BareEnv, f.name)
		}
	}
	if strings.TrimSpace(cfg.Valves.Lang) == "" {
		cfg.Valves.Lang = "Chinese"
	}

	if v := firstNonEmpty(os.Getenv("RAGFLOW_REQUEST_TIMEOUT"), merged["request_timeout"]); v != "" {
		dur, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("invalid request_timeout %q: %w", v, err)
		}
		cfg.RequestTimeout = dur
	}

	hookArgs := firstNonEmpty(os.Getenv("RAGFLOW_HOOK_SCRIPT_ARGS"), merged["hooks_script_args"])
	hookEnv := firstNonEmpty(os.Getenv("RAGFLOW_HOOK_SCRIPT_ENV"), merged["hooks_script_env"])
	cfg.Hooks = hooks.Config{
		Enabled:    parseBool(firstNonEmpty(os.Getenv("RAGFLOW_HOOKS_ENABLED"), merged["hooks_enabled"])),
		ScriptPath: firstNonEmpty(os.Getenv("RAGFLOW_HOOK_SCRIPT"), merged["hooks_script_path"]),
		ScriptArgs: parseCSV(hookArgs),
		Env:        parseMap(hookEnv),
	}
	for _, name := range parseCSV(firstNonEmpty(os.Getenv("RAGFLOW_HOOK_EVENTS"), merged["hooks_events"])) {
		cfg.Hooks.Events = append(cfg.Hooks.Events, hooks.EventType(name))
	}
	if v := firstNonEmpty(os.Getenv("RAGFLOW_HOOK_TIMEOUT"), merged["hooks_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("invalid hooks_timeout %q: %w", v, err)
		}
		cfg.Hooks.Timeout = dur
	}

	if err := cfg.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks required fields and enumerations.
func (c PipelineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid pipeline config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	switch c.SessionStore {
	case StorePostgres:
		if strings.TrimSpace(c.SessionDSN) == "" {
			return errors.New("invalid pipeline config: session_dsn required for postgres session store")
		}
	case StoreSQLite, StoreBadger:
		if strings.TrimSpace(c.SessionDBPath) == "" {
			return fmt.Errorf("invalid pipeline config: session_db_path required for %s session store", c.SessionStore)
		}
	}
	return c.Hooks.Validate()
}

// loadValvesFile reads a YAML (or JSON) document of valve values.
func loadValvesFile(path string) (Valves, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Valves{}, fmt.Errorf("read valves file: %w", err)
	}
	var v Valves
	if err := yaml.Unmarshal(b, &v); err != nil {
		return Valves{}, fmt.Errorf("parse valves file %s: %w", path, err)
	}
	return v, nil
}

// mergeValves overlays the non-empty fields of over onto base.
func mergeValves(base, over Valves) Valves {
	base.APIKey = firstNonEmpty(over.APIKey, base.APIKey)
	base.AgentID = firstNonEmpty(over.AgentID, base.AgentID)
	base.Host = firstNonEmpty(over.Host, base.Host)
	base.Port = firstNonEmpty(over.Port, base.Port)
	base.Lang = firstNonEmpty(over.Lang, base.Lang)
	return base
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultSessionDBPath returns the fallback session database location under
// the user's home directory.
func DefaultSessionDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessions.db"
	}
	return filepath.Join(home, ".ragflow-pipeline", "sessions.db")
}
