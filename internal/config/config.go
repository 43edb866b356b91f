// Package config resolves glmproxy's runtime configuration from the process
// environment (optionally seeded by a .env file) plus the persisted token file
// described in spec.md §6.5.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every PROXY_*/CONTEXT_*/GLM_TOKEN/PORT/HOST setting from
// spec.md §6.4, resolved once at startup.
type Config struct {
	Port int
	Host string

	GLMToken string

	NewChatPerRequest    bool
	UseGLMHistory        bool
	HistoryMaxMessages   int
	AlwaysSendSystem     bool
	CompactReset         bool
	StripHistory         bool
	DefaultThinking      bool
	AllowWebSearch       bool
	AllowNetwork         bool
	AllowAnyCommand      bool
	AllowExplicitMutations bool
	AllowRawMutations    bool
	ConfirmDangerousCmds bool
	AllowUserHeuristics  bool

	MaxActionsPerTurn  int
	ToolLoopLimit      int
	PlannerMaxRetries  int
	PlannerCoerce      bool

	IncludeUsage  bool
	Debug         bool
	DebugDumpDir  string
	TestMode      bool

	ToolPromptIncludeSchema       bool
	ToolPromptSchemaMaxChars      int
	ToolPromptExtraSystemMaxChars int

	Context ContextConfig

	WorkspaceRoots []string
	DefaultModel   string
	UpstreamVendor string
	UpstreamBaseURL string
	FEVersion      string
}

// ContextConfig mirrors spec.md §3's ContextConfig record for ContextCompactor.
type ContextConfig struct {
	MaxTokens         int
	ReserveTokens     int
	SafetyMargin      int
	RecentMessages    int
	MinRecentMessages int
	SummaryMaxChars   int
	ToolMaxLines      int
	ToolMaxChars      int
}

// TokenFile is the persisted shape of $HOME/.config/glmproxy/config.json.
type TokenFile struct {
	Token string `json:"token"`
}

// Load resolves configuration: .env (if present) -> process env -> defaults,
// then falls back to the token file for GLMToken when GLM_TOKEN is unset.
func Load() (Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	c := Config{
		Port:               envInt("PORT", 8787),
		Host:               envString("HOST", "0.0.0.0"),
		GLMToken:           os.Getenv("GLM_TOKEN"),
		NewChatPerRequest:  envBool("PROXY_NEW_CHAT_PER_REQUEST", false),
		UseGLMHistory:      envBool("PROXY_USE_GLM_HISTORY", false),
		HistoryMaxMessages: envInt("PROXY_HISTORY_MAX_MESSAGES", 0),
		AlwaysSendSystem:   envBool("PROXY_ALWAYS_SEND_SYSTEM", false),
		CompactReset:       envBool("PROXY_COMPACT_RESET", false),
		StripHistory:       envBool("PROXY_STRIP_HISTORY", false),
		DefaultThinking:    envBool("PROXY_DEFAULT_THINKING", true),

		AllowWebSearch:         envBool("PROXY_ALLOW_WEB_SEARCH", false),
		AllowNetwork:           envBool("PROXY_ALLOW_NETWORK", true),
		AllowAnyCommand:        envBool("PROXY_ALLOW_ANY_COMMAND", false),
		AllowExplicitMutations: envBool("PROXY_ALLOW_EXPLICIT_MUTATIONS", false),
		AllowRawMutations:      envBool("PROXY_ALLOW_RAW_MUTATIONS", false),
		ConfirmDangerousCmds:   envBool("PROXY_CONFIRM_DANGEROUS_COMMANDS", true),
		AllowUserHeuristics:    envBool("PROXY_ALLOW_USER_HEURISTICS", true),

		MaxActionsPerTurn: envInt("PROXY_MAX_ACTIONS_PER_TURN", 8),
		ToolLoopLimit:     envInt("PROXY_TOOL_LOOP_LIMIT", 25),
		PlannerMaxRetries: envInt("PROXY_PLANNER_MAX_RETRIES", 2),
		PlannerCoerce:     envBool("PROXY_PLANNER_COERCE", true),

		IncludeUsage: envBool("PROXY_INCLUDE_USAGE", false),
		Debug:        envBool("PROXY_DEBUG", false),
		DebugDumpDir: envString("PROXY_DEBUG_DUMP_DIR", ""),
		TestMode:     envBool("PROXY_TEST_MODE", false),

		ToolPromptIncludeSchema:       envBool("PROXY_TOOL_PROMPT_INCLUDE_SCHEMA", true),
		ToolPromptSchemaMaxChars:      envInt("PROXY_TOOL_PROMPT_SCHEMA_MAX_CHARS", 4000),
		ToolPromptExtraSystemMaxChars: envInt("PROXY_TOOL_PROMPT_EXTRA_SYSTEM_MAX_CHARS", 2000),

		Context: ContextConfig{
			MaxTokens:         envInt("CONTEXT_MAX_TOKENS", 128000),
			ReserveTokens:     envInt("CONTEXT_RESERVE_TOKENS", 4000),
			SafetyMargin:      envInt("CONTEXT_SAFETY_MARGIN", 2000),
			RecentMessages:    envInt("CONTEXT_RECENT_MESSAGES", 20),
			MinRecentMessages: envInt("CONTEXT_MIN_RECENT_MESSAGES", 4),
			SummaryMaxChars:   envInt("CONTEXT_SUMMARY_MAX_CHARS", 2000),
			ToolMaxLines:      envInt("CONTEXT_TOOL_MAX_LINES", 200),
			ToolMaxChars:      envInt("CONTEXT_TOOL_MAX_CHARS", 8000),
		},

		DefaultModel:    envString("PROXY_DEFAULT_MODEL", "glm-4.7"),
		UpstreamVendor:  envString("PROXY_UPSTREAM_VENDOR", "z.ai"),
		UpstreamBaseURL: envString("PROXY_UPSTREAM_BASE_URL", "https://chat.z.ai"),
		FEVersion:       envString("PROXY_FE_VERSION", "1.0.0"),
	}

	if roots := os.Getenv("PROXY_WORKSPACE_ROOTS"); roots != "" {
		c.WorkspaceRoots = strings.Split(roots, string(os.PathListSeparator))
	} else if wd, err := os.Getwd(); err == nil {
		c.WorkspaceRoots = []string{wd}
	}

	if c.GLMToken == "" {
		if tf, err := loadTokenFile(); err == nil {
			c.GLMToken = tf.Token
		}
	}

	return c, nil
}

// TokenFilePath returns the resolved path of the persisted token file.
func TokenFilePath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "glmproxy", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "glmproxy", "config.json")
}

func loadTokenFile() (TokenFile, error) {
	var tf TokenFile
	path := TokenFilePath()
	if path == "" {
		return tf, os.ErrNotExist
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return tf, err
	}
	if err := json.Unmarshal(raw, &tf); err != nil {
		return tf, err
	}
	return tf, nil
}

// SaveToken persists the bearer token to the config file (used by `glmproxy
// login`/`glmproxy config` once a token has been obtained out-of-band).
func SaveToken(token string) error {
	path := TokenFilePath()
	if path == "" {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(TokenFile{Token: token}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v = strings.TrimSpace(strings.ToLower(v))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
