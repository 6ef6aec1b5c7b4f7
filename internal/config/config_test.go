package config

import (
	"os"
	"testing"
)

func TestLoadMissingLLMKeyIsFatal(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("JWT_SECRET", "some-secret")
	_, err := Load("")
	var cfgErr *ConfigError
	if err == nil {
		t.Fatal("expected ConfigError, got nil")
	}
	if !asConfigError(err, &cfgErr) || cfgErr.Field != "llm_api_key" {
		t.Fatalf("expected llm_api_key ConfigError, got %v", err)
	}
}

func TestLoadMissingJWTSecretIsFatal(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("JWT_SECRET", "")
	_, err := Load("")
	var cfgErr *ConfigError
	if err == nil {
		t.Fatal("expected ConfigError, got nil")
	}
	if !asConfigError(err, &cfgErr) || cfgErr.Field != "jwt_secret" {
		t.Fatalf("expected jwt_secret ConfigError, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("JWT_SECRET", "secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected default HTTPPort=8080, got %d", cfg.HTTPPort)
	}
	if cfg.RateLimitPerMinute != 60 {
		t.Errorf("expected default RateLimitPerMinute=60, got %d", cfg.RateLimitPerMinute)
	}
}

func TestEnvOverridesFileValue(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.json"
	if err := os.WriteFile(path, []byte(`{"llmApiKey":"from-file","httpPort":9000}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LLM_API_KEY", "from-env")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLMAPIKey != "from-env" {
		t.Errorf("expected env to win, got %q", cfg.LLMAPIKey)
	}
	if cfg.HTTPPort != 9000 {
		t.Errorf("expected file-provided HTTPPort=9000 to survive, got %d", cfg.HTTPPort)
	}
}

func TestMockModeWithoutBrokerCredentials(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.MockMode() {
		t.Error("expected MockMode true without broker credentials")
	}
	cfg.BrokerAPIKey = "k"
	cfg.BrokerSecret = "s"
	if cfg.MockMode() {
		t.Error("expected MockMode false once both broker credentials are set")
	}
}

func asConfigError(err error, target **ConfigError) bool {
	ce, ok := err.(*ConfigError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
