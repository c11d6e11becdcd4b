package query

import (
	"context"
	"errors"
	"sync"
)

// Config is the user-adjustable model/runtime parameter set merged into
// every outbound query.
type Config struct {
	ModelID              string  `json:"bedrock_model_id"`
	ProfileName          string  `json:"profile_name"`
	UseRAG               bool    `json:"use_rag_flag"`
	VisualizeResults     bool    `json:"visualize_results_flag"`
	IntentNERRecognition bool    `json:"intent_ner_recognition_flag"`
	AgentCOT             bool    `json:"agent_cot_flag"`
	ExplainGenProcess    bool    `json:"explain_gen_process_flag"`
	GenSuggestedQuestion bool    `json:"gen_suggested_question_flag"`
	AnswerWithInsights   bool    `json:"answer_with_insights"`
	TopK                 float64 `json:"top_k"`
	TopP                 float64 `json:"top_p"`
	MaxTokens            int     `json:"max_tokens"`
	Temperature          float64 `json:"temperature"`
	ContextWindow        int     `json:"context_window"`
}

func Default() Config {
	return Config{
		ModelID:              "anthropic.claude-3-sonnet-20240229-v1:0",
		UseRAG:               true,
		VisualizeResults:     true,
		IntentNERRecognition: true,
		AgentCOT:             true,
		ExplainGenProcess:    true,
		GenSuggestedQuestion: false,
		AnswerWithInsights:   false,
		TopK:                 250,
		TopP:                 0.9,
		MaxTokens:            2048,
		Temperature:          0.1,
		ContextWindow:        5,
	}
}

// Clamp forces numeric fields into the ranges the settings panel allows.
func (c Config) Clamp() Config {
	c.Temperature = clampFloat(c.Temperature, 0, 1)
	c.TopP = clampFloat(c.TopP, 0, 1)
	c.TopK = clampFloat(c.TopK, 0, 500)
	c.MaxTokens = clampInt(c.MaxTokens, 1, 8192)
	c.ContextWindow = clampInt(c.ContextWindow, 0, 20)
	return c
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var ErrNotFound = errors.New("query config not found")

// Store persists one Config per user.
type Store interface {
	Load(ctx context.Context, userID string) (Config, error)
	Save(ctx context.Context, userID string, cfg Config) error
}

// MemoryStore is the Store used when no Redis is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	cfgs map[string]Config
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cfgs: make(map[string]Config)}
}

func (m *MemoryStore) Load(ctx context.Context, userID string) (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.cfgs[userID]
	if !ok {
		return Config{}, ErrNotFound
	}
	return cfg, nil
}

func (m *MemoryStore) Save(ctx context.Context, userID string, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfgs[userID] = cfg
	return nil
}

// Settings holds the live Config for one user and writes it back to the
// Store on every change.
type Settings struct {
	mu     sync.RWMutex
	cfg    Config
	store  Store
	userID string
}

// LoadSettings reads the persisted Config, falling back to Default (with the
// given profile) when none exists yet.
func LoadSettings(ctx context.Context, store Store, userID, profile string) (*Settings, error) {
	cfg, err := store.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		cfg = Default()
		cfg.ProfileName = profile
	} else if err != nil {
		return nil, err
	}
	return &Settings{cfg: cfg.Clamp(), store: store, userID: userID}, nil
}

func (s *Settings) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update clamps and applies cfg, then persists it.
func (s *Settings) Update(ctx context.Context, cfg Config) (Config, error) {
	cfg = cfg.Clamp()

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if err := s.store.Save(ctx, s.userID, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
