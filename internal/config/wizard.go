package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/rotisserie/eris"
)

// RunWizard runs an interactive configuration wizard and saves the result
// to path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to lexreview! Let's configure this workspace.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. LLM provider.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{"mistral", "openai", "anthropic", "ollama"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, eris.Wrap(err, "provider selection")
	}
	cfg.LLM.Provider = ProviderType(providerStr)
	cfg.LLM.Model = DefaultModel(cfg.LLM.Provider)

	// 2. Embedding provider.
	embedPrompt := promptui.Select{
		Label: "Select embedding provider",
		Items: []string{
			"openai: text-embedding-3-small",
			"ollama: nomic-embed-text (local)",
			"hash:   offline feature hashing, no API",
		},
	}
	embedIdx, _, err := embedPrompt.Run()
	if err != nil {
		return nil, eris.Wrap(err, "embedding selection")
	}
	cfg.Embedding.Provider = []ProviderType{ProviderOpenAI, ProviderOllama, ProviderHash}[embedIdx]
	cfg.Embedding.Model, cfg.Embedding.Dimensions = DefaultEmbedding(cfg.Embedding.Provider)

	// 3. Vector backend.
	backendPrompt := promptui.Select{
		Label: "Select vector backend",
		Items: []string{string(BackendChromem), string(BackendPGVector)},
	}
	_, backendStr, err := backendPrompt.Run()
	if err != nil {
		return nil, eris.Wrap(err, "backend selection")
	}
	cfg.Vector.Backend = VectorBackend(backendStr)
	if cfg.Vector.Backend == BackendPGVector {
		dsnPrompt := promptui.Prompt{
			Label:   "Postgres DSN",
			Default: "postgres://localhost:5432/lexreview",
		}
		if cfg.Vector.PostgresDSN, err = dsnPrompt.Run(); err != nil {
			return nil, eris.Wrap(err, "postgres dsn")
		}
	}

	// 4. Data and template directories.
	dataPrompt := promptui.Prompt{Label: "Data directory", Default: cfg.DataDir}
	if cfg.DataDir, err = dataPrompt.Run(); err != nil {
		return nil, eris.Wrap(err, "data dir")
	}
	tmplPrompt := promptui.Prompt{Label: "Letter templates directory", Default: cfg.TemplatesDir}
	if cfg.TemplatesDir, err = tmplPrompt.Run(); err != nil {
		return nil, eris.Wrap(err, "templates dir")
	}

	// 5. Server port.
	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: strconv.Itoa(cfg.Server.Port),
		Validate: func(s string) error {
			_, err := parsePort(s)
			return err
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, eris.Wrap(err, "port")
	}
	if cfg.Server.Port, err = parsePort(portStr); err != nil {
		return nil, err
	}

	if envVar := APIKeyEnvVar(cfg.LLM.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment (or .env) before starting a review.\n", envVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, eris.Wrap(err, "saving config")
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 || n > 65535 {
		return 0, eris.Errorf("port must be between 1 and 65535, got %q", s)
	}
	return n, nil
}
