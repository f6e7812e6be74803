package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Source loads initial bundle definitions, typically at startup.
type Source interface {
	Load(ctx context.Context) ([]BundleDefinition, error)
}

// YAMLSource loads bundle definitions from a YAML file. Intended for seeding
// a fresh catalog; runtime edits go through Propose/Apply.
type YAMLSource struct {
	path string
}

// NewYAMLSource creates a source reading from the given file path.
func NewYAMLSource(path string) *YAMLSource {
	return &YAMLSource{path: path}
}

type yamlBundle struct {
	Key          string           `yaml:"key"`
	MonthlyPrice string           `yaml:"monthly_price"`
	YearlyPrice  string           `yaml:"yearly_price"`
	Features     []string         `yaml:"features"`
	Limits       map[string]int64 `yaml:"limits"`
	Promo        *struct {
		OverridePrice string    `yaml:"override_price"`
		ExpiresAt     time.Time `yaml:"expires_at"`
	} `yaml:"promo"`
	Enabled bool `yaml:"enabled"`
}

type yamlFile struct {
	Bundles []yamlBundle `yaml:"bundles"`
}

// Load parses the YAML file into bundle definitions.
func (s *YAMLSource) Load(ctx context.Context) ([]BundleDefinition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle seed file: %w", err)
	}

	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse bundle seed file: %w", err)
	}

	defs := make([]BundleDefinition, 0, len(file.Bundles))
	for _, b := range file.Bundles {
		def, err := b.toDefinition()
		if err != nil {
			return nil, fmt.Errorf("bundle %q: %w", b.Key, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (b yamlBundle) toDefinition() (BundleDefinition, error) {
	monthly, err := decimal.NewFromString(b.MonthlyPrice)
	if err != nil {
		return BundleDefinition{}, fmt.Errorf("invalid monthly price: %w", err)
	}
	yearly, err := decimal.NewFromString(b.YearlyPrice)
	if err != nil {
		return BundleDefinition{}, fmt.Errorf("invalid yearly price: %w", err)
	}

	def := BundleDefinition{
		Key:          b.Key,
		MonthlyPrice: monthly,
		YearlyPrice:  yearly,
		Enabled:      b.Enabled,
	}
	for _, f := range b.Features {
		def.Features = append(def.Features, Feature(f))
	}
	if b.Limits != nil {
		def.Limits = make(map[Feature]int64, len(b.Limits))
		for f, limit := range b.Limits {
			def.Limits[Feature(f)] = limit
		}
	}
	if b.Promo != nil {
		price, err := decimal.NewFromString(b.Promo.OverridePrice)
		if err != nil {
			return BundleDefinition{}, fmt.Errorf("invalid promo price: %w", err)
		}
		def.Promo = &Promo{OverridePrice: price, ExpiresAt: b.Promo.ExpiresAt}
	}
	return def, validateDefinition(def)
}

// Seed defines every bundle from the source that does not exist yet.
// Existing keys are left untouched so re-running a deployment is safe.
func Seed(ctx context.Context, svc Service, src Source) error {
	defs, err := src.Load(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if _, err := svc.Define(ctx, def, "seed"); err != nil {
			if errors.Is(err, ErrBundleAlreadyExists) {
				continue
			}
			return err
		}
	}
	return nil
}
