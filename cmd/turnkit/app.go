package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"turnkit/internal/agent"
	"turnkit/internal/config"
	"turnkit/internal/contextwindow"
	"turnkit/internal/filecontext"
	"turnkit/internal/kvstore"
	"turnkit/internal/llm"
	"turnkit/internal/llm/mockclient"
	"turnkit/internal/logging"
	"turnkit/internal/openrouter"
	"turnkit/internal/optimize"
	"turnkit/internal/prompts"
	"turnkit/internal/state"
	"turnkit/internal/tokens"
	"turnkit/internal/turn"
)

type globalFlags struct {
	configPath string
	provider   string
	model      string
	workspace  string
	logLevel   string
	mock       bool
}

// app carries the collaborators shared by every subcommand.
type app struct {
	cfg       config.Config
	store     *kvstore.SQLite
	settings  *optimize.Controller
	estimator tokens.Estimator
	prompts   *prompts.Provider
	model     llm.Model
	out       *renderer
	logger    *logrus.Entry

	client  llm.Client
	closers []io.Closer
}

func loadConfig(flags *globalFlags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
	} else {
		cfg, err = config.LoadUserConfig()
	}
	if err != nil {
		return config.Config{}, err
	}

	provider := strings.ToLower(strings.TrimSpace(flags.provider))
	if flags.mock || os.Getenv("TURNKIT_MOCK_LLM") == "1" {
		provider = config.ProviderMock
	}
	if provider != "" && provider != cfg.Provider {
		cfg.Provider = provider
		switch provider {
		case config.ProviderMock:
			cfg.Model = config.DefaultMockModel
		case config.ProviderOpenRouter:
			cfg.Model = config.DefaultOpenRouterModel
		default:
			return config.Config{}, fmt.Errorf("unknown provider %q", provider)
		}
	}
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if flags.workspace != "" {
		cfg.WorkspaceRoot = flags.workspace
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logCloser, err := logging.Setup(logging.Options{Path: cfg.LogPath, Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	a := &app{cfg: cfg, out: newRenderer(os.Stdout), logger: logging.Component("cli")}
	a.closers = append(a.closers, logCloser)

	store, err := kvstore.OpenSQLite(cfg.StorePath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store)
	a.settings = optimize.NewController(store, logging.Component("settings"))
	a.estimator = tokens.New(cfg.Tokenizer, cfg.Model)

	provider, err := prompts.Default()
	if err != nil {
		a.Close()
		return nil, err
	}
	workspace := cfg.WorkspaceRoot
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}
	provider.SetMetadata(buildEnvironmentMetadata(workspace))
	a.prompts = provider

	a.model = llm.Model{Name: cfg.Model, Provider: cfg.Provider, MaxTokenAllowed: cfg.ContextLength()}
	a.logger.WithFields(logrus.Fields{
		"provider": cfg.Provider,
		"model":    cfg.Model,
		"context":  a.model.MaxTokenAllowed,
	}).Debug("configuration loaded")
	return a, nil
}

// Close releases the store and the log file.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

// llmClient builds the model client on first use so offline commands never
// require an API key.
func (a *app) llmClient() (llm.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	switch a.cfg.Provider {
	case config.ProviderMock:
		a.logger.Info("using mock LLM client")
		a.client = mockclient.New()
	default:
		key := a.cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("%s is not set; export it or pass --mock", a.cfg.APIKeyEnv)
		}
		a.client = openrouter.NewClient(a.cfg.BaseURL, key, a.cfg.RequestTimeout(), logging.Component("openrouter"))
	}
	return a.client, nil
}

func (a *app) allocator() *contextwindow.Allocator {
	return &contextwindow.Allocator{
		CompletionReserve: a.cfg.CompletionReserveTokens,
		SystemFloor:       a.cfg.SystemPromptFloorTokens,
		MessageShare:      a.cfg.MessageShare,
		SafetyFraction:    a.cfg.SystemPromptSafetyFraction,
	}
}

func (a *app) pricing() optimize.Pricing {
	return optimize.Pricing{PricePer1K: a.cfg.PricePer1KTokens, CostThreshold: a.cfg.CostThreshold}
}

func (a *app) analyzer() *optimize.Analyzer {
	return optimize.NewAnalyzer(a.settings.Settings(), a.estimator, a.pricing())
}

func (a *app) history() *agent.History {
	return agent.NewHistory(a.store)
}

// loadFiles reads the workspace when include patterns are given.
func (a *app) loadFiles(include []string) (filecontext.FileMap, error) {
	if len(include) == 0 {
		return nil, nil
	}
	files, err := filecontext.Load(a.cfg.WorkspaceRoot, filecontext.LoadOptions{Include: include})
	if err != nil {
		return nil, fmt.Errorf("load file context: %w", err)
	}
	a.logger.Debugf("loaded %d workspace files", len(files))
	return files, nil
}

func (a *app) agentManager(client llm.Client, files filecontext.FileMap) *agent.Manager {
	renderer := a.prompts
	model := a.model
	temperature := a.cfg.Temperature
	return agent.NewManager(agent.Options{
		Enabled:       a.cfg.AgentsOn(),
		Timeout:       a.cfg.AgentTimeout(),
		WorkspaceRoot: a.cfg.WorkspaceRoot,
		Files:         files,
		Factory: func(task agent.Task) agent.Agent {
			return agent.NewCodingAgent(client, renderer, model, task, agent.CallOptions{Temperature: temperature})
		},
		History: a.history(),
		Logger:  logging.Component("agent-manager"),
	})
}

func (a *app) pipeline(client llm.Client, files filecontext.FileMap, onDelta func(string)) (*turn.Pipeline, error) {
	return turn.New(turn.Options{
		Client:       client,
		Prompts:      a.prompts,
		Model:        a.model,
		Estimator:    a.estimator,
		Allocator:    a.allocator(),
		Settings:     a.settings,
		Pricing:      a.pricing(),
		Agents:       a.agentManager(client, files),
		Files:        files,
		CustomPrompt: a.cfg.SystemPrompt,
		Temperature:  a.cfg.Temperature,
		OnDelta:      onDelta,
		Logger:       logging.Component("turn"),
	})
}

// readMessages loads a conversation export; "-" reads stdin and "" yields an
// empty history.
func readMessages(path string) ([]state.Message, error) {
	var (
		msgs []state.Message
		err  error
	)
	switch path {
	case "":
		return nil, nil
	case "-":
		data, rerr := io.ReadAll(os.Stdin)
		if rerr != nil {
			return nil, fmt.Errorf("read stdin: %w", rerr)
		}
		msgs, err = state.ParseMessages(data)
	default:
		msgs, err = state.LoadMessagesFile(path)
	}
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New("no messages found in " + path)
	}
	return msgs, nil
}
