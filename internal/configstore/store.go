// Package configstore implements the minimal persistence the dispatch
// façade consumes (SPEC_FULL §4.10): not the teacher's full
// provider/audit-log schema, just enough to resolve a tenant's
// ModelConfig.
//
// Grounded on internal/database's PoolManager (gorm.DB + connection
// tuning idiom) and llm/types.go's persistence-model shape, narrowed
// to the rows this core actually reads.
package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// configRow is the gorm-mapped row backing one ModelConfig.
type configRow struct {
	ID                string `gorm:"primaryKey"`
	TenantID          string `gorm:"index"`
	IsDefault         bool   `gorm:"index"`
	ProviderKind      string
	ModelName         string
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	FrequencyPenalty  *float64
	PresencePenalty   *float64
	StopSequences     string // json array
	CustomParams      string // json object
	APIKey            string
	BaseURL           string
	Organization      string
	ExtraHeaders      string // json object
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (configRow) TableName() string { return "llm_model_configs" }

// toModelConfig decodes a row into the llmcore value type, surfacing
// a decode failure as a plain error (per §6: store-level errors are
// not reinterpreted as dispatch-core error kinds).
func (r configRow) toModelConfig() (*llmcore.ModelConfig, error) {
	cfg := &llmcore.ModelConfig{
		ID:           r.ID,
		ProviderKind: llmcore.ProviderKind(r.ProviderKind),
		ModelName:    r.ModelName,
		Credentials: llmcore.Credentials{
			APIKey:       r.APIKey,
			BaseURL:      r.BaseURL,
			Organization: r.Organization,
		},
		SamplingParams: llmcore.SamplingParams{
			Temperature:      r.Temperature,
			TopP:             r.TopP,
			MaxTokens:        r.MaxTokens,
			FrequencyPenalty: r.FrequencyPenalty,
			PresencePenalty:  r.PresencePenalty,
		},
	}
	if r.StopSequences != "" {
		if err := json.Unmarshal([]byte(r.StopSequences), &cfg.SamplingParams.StopSequences); err != nil {
			return nil, fmt.Errorf("decode stop_sequences: %w", err)
		}
	}
	if r.CustomParams != "" {
		if err := json.Unmarshal([]byte(r.CustomParams), &cfg.SamplingParams.Custom); err != nil {
			return nil, fmt.Errorf("decode custom_params: %w", err)
		}
	}
	if r.ExtraHeaders != "" {
		if err := json.Unmarshal([]byte(r.ExtraHeaders), &cfg.Credentials.ExtraHeaders); err != nil {
			return nil, fmt.Errorf("decode extra_headers: %w", err)
		}
	}
	return cfg, nil
}

func fromModelConfig(tenantID string, isDefault bool, cfg llmcore.ModelConfig) (configRow, error) {
	row := configRow{
		ID:               cfg.ID,
		TenantID:         tenantID,
		IsDefault:        isDefault,
		ProviderKind:     string(cfg.ProviderKind),
		ModelName:        cfg.ModelName,
		Temperature:      cfg.SamplingParams.Temperature,
		TopP:             cfg.SamplingParams.TopP,
		MaxTokens:        cfg.SamplingParams.MaxTokens,
		FrequencyPenalty: cfg.SamplingParams.FrequencyPenalty,
		PresencePenalty:  cfg.SamplingParams.PresencePenalty,
		APIKey:           cfg.Credentials.APIKey,
		BaseURL:          cfg.Credentials.BaseURL,
		Organization:     cfg.Credentials.Organization,
	}
	if len(cfg.SamplingParams.StopSequences) > 0 {
		b, err := json.Marshal(cfg.SamplingParams.StopSequences)
		if err != nil {
			return configRow{}, err
		}
		row.StopSequences = string(b)
	}
	if len(cfg.SamplingParams.Custom) > 0 {
		b, err := json.Marshal(cfg.SamplingParams.Custom)
		if err != nil {
			return configRow{}, err
		}
		row.CustomParams = string(b)
	}
	if len(cfg.Credentials.ExtraHeaders) > 0 {
		b, err := json.Marshal(cfg.Credentials.ExtraHeaders)
		if err != nil {
			return configRow{}, err
		}
		row.ExtraHeaders = string(b)
	}
	return row, nil
}

// Store implements the facade's consumed ConfigStore interface
// (§6: FindDefaultByTenant, FindByID) against a gorm.DB, plus Put for
// test/bootstrap seeding. The core never otherwise writes to this
// store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New builds a Store over an already-open gorm.DB and ensures the
// schema exists via AutoMigrate.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&configRow{}); err != nil {
		return nil, fmt.Errorf("configstore: auto-migrate failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// FindDefaultByTenant returns the tenant's default ModelConfig, or
// (nil, nil) if none is marked default.
func (s *Store) FindDefaultByTenant(ctx context.Context, tenantID string) (*llmcore.ModelConfig, error) {
	var row configRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_default = ?", tenantID, true).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("configstore: find default by tenant: %w", err)
	}
	return row.toModelConfig()
}

// FindByID returns the ModelConfig with the given id, or (nil, nil)
// if it does not exist.
func (s *Store) FindByID(ctx context.Context, configID string) (*llmcore.ModelConfig, error) {
	var row configRow
	err := s.db.WithContext(ctx).Where("id = ?", configID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("configstore: find by id: %w", err)
	}
	return row.toModelConfig()
}

// Put upserts a ModelConfig for tenantID, optionally marking it the
// tenant's default. Used only by tests and bootstrap seeding.
func (s *Store) Put(ctx context.Context, tenantID string, isDefault bool, cfg llmcore.ModelConfig) error {
	row, err := fromModelConfig(tenantID, isDefault, cfg)
	if err != nil {
		return fmt.Errorf("configstore: encode model config: %w", err)
	}
	if isDefault {
		if err := s.db.WithContext(ctx).Model(&configRow{}).
			Where("tenant_id = ? AND id <> ?", tenantID, row.ID).
			Update("is_default", false).Error; err != nil {
			return fmt.Errorf("configstore: clear previous default: %w", err)
		}
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("configstore: save: %w", err)
	}
	return nil
}
