package config

import "os"

// ZeroConfig returns a runnable development configuration: sqlite store,
// embedded chromem vectors, ollama embedder and an env-keyed LLM when one
// is available. Used when the server starts without a config file.
func ZeroConfig() *Config {
	cfg := &Config{
		Capabilities: DefaultCapabilities(),
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLMs = map[string]*LLMProviderConfig{
			"default": {Type: "openai", APIKey: key},
		}
		cfg.DefaultLLM = "default"
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLMs = map[string]*LLMProviderConfig{
			"default": {Type: "gemini", APIKey: key},
		}
		cfg.DefaultLLM = "default"
	}

	cfg.SetDefaults()
	return cfg
}

// DefaultCapabilities is the built-in capability catalog. Deployments
// extend or override it from the config file.
func DefaultCapabilities() map[string]*CapabilityConfig {
	return map[string]*CapabilityConfig{
		"general_conversation": {
			RiskLevel: "LOW",
			Handler:   "general_conversation",
		},
		"task_list": {
			PrimaryKeywords:   []string{"タスク", "task", "todo", "やること"},
			SecondaryKeywords: []string{"見せて", "一覧", "list", "show"},
			IntentHints:       []string{"task_query"},
			RiskLevel:         "LOW",
			Handler:           "task_list",
		},
		"task_create": {
			PrimaryKeywords:   []string{"タスク", "task"},
			SecondaryKeywords: []string{"追加", "作成", "登録", "add", "create"},
			NegativeKeywords:  []string{"見せて", "一覧", "list"},
			IntentHints:       []string{"task_create"},
			RiskLevel:         "MEDIUM",
			Handler:           "task_create",
		},
		"goal_register": {
			PrimaryKeywords:   []string{"目標", "goal", "ゴール"},
			SecondaryKeywords: []string{"設定", "決める", "set", "register"},
			IntentHints:       []string{"goal_setting"},
			RiskLevel:         "MEDIUM",
			Handler:           "goal_register",
		},
		"announcement_create": {
			PrimaryKeywords:      []string{"アナウンス", "announcement", "お知らせ", "周知"},
			SecondaryKeywords:    []string{"送って", "作成", "send", "broadcast"},
			IntentHints:          []string{"announcement"},
			RiskLevel:            "HIGH",
			RequiresConfirmation: true,
			Handler:              "announcement_create",
		},
		"knowledge_search": {
			PrimaryKeywords:   []string{"教えて", "調べて", "ナレッジ", "マニュアル", "規定", "what is", "how do"},
			SecondaryKeywords: []string{"社内", "ドキュメント", "document", "policy"},
			IntentHints:       []string{"knowledge_query"},
			RiskLevel:         "LOW",
			Handler:           "knowledge_search",
		},
	}
}
