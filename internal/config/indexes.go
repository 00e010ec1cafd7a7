package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

type indexesFile struct {
	Indexes    []indexEntry `yaml:"indexes"`
	Federation struct {
		// SharedDistinctScopes maps a scope name to the indexes whose distinct keys may collide.
		SharedDistinctScopes map[string][]string `yaml:"sharedDistinctScopes"`
	} `yaml:"federation"`
}

type indexEntry struct {
	UID                  string                             `yaml:"uid"`
	PrimaryKey           string                             `yaml:"primaryKey"`
	SearchableAttributes []string                           `yaml:"searchableAttributes"`
	DistinctAttribute    string                             `yaml:"distinctAttribute"`
	TypoTolerance        *typoEntry                         `yaml:"typoTolerance"`
	Embedders            map[string]domain.EmbedderSettings `yaml:"embedders"`
}

type typoEntry struct {
	Enabled             *bool    `yaml:"enabled"`
	MinWordSizeOneTypo  int      `yaml:"minWordSizeForOneTypo"`
	MinWordSizeTwoTypos int      `yaml:"minWordSizeForTwoTypos"`
	DisableOnAttributes []string `yaml:"disableOnAttributes"`
	DisableOnWords      []string `yaml:"disableOnWords"`
}

// IndexCatalog holds the read-only index settings loaded at startup.
type IndexCatalog struct {
	indexes map[string]domain.IndexSettings
	scopes  map[string]string
	order   []string
}

func LoadIndexes(path string) (*IndexCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indexes config: %w", err)
	}
	return ParseIndexes(raw)
}

func ParseIndexes(raw []byte) (*IndexCatalog, error) {
	var file indexesFile
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode indexes config: %w", err)
	}

	catalog := &IndexCatalog{
		indexes: make(map[string]domain.IndexSettings, len(file.Indexes)),
		scopes:  make(map[string]string),
		order:   make([]string, 0, len(file.Indexes)),
	}
	for _, entry := range file.Indexes {
		settings := entry.settings()
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		if _, exists := catalog.indexes[settings.UID]; exists {
			return nil, fmt.Errorf("index %s is declared twice", settings.UID)
		}
		catalog.indexes[settings.UID] = settings
		catalog.order = append(catalog.order, settings.UID)
	}

	scopeNames := make([]string, 0, len(file.Federation.SharedDistinctScopes))
	for name := range file.Federation.SharedDistinctScopes {
		scopeNames = append(scopeNames, name)
	}
	slices.Sort(scopeNames)
	for _, name := range scopeNames {
		if name == "" {
			return nil, fmt.Errorf("shared distinct scope name is required")
		}
		for _, uid := range file.Federation.SharedDistinctScopes[name] {
			if _, ok := catalog.indexes[uid]; !ok {
				return nil, fmt.Errorf("shared distinct scope %s: unknown index %s", name, uid)
			}
			if previous, taken := catalog.scopes[uid]; taken {
				return nil, fmt.Errorf("index %s belongs to shared distinct scopes %s and %s", uid, previous, name)
			}
			catalog.scopes[uid] = name
		}
	}

	return catalog, nil
}

func (e indexEntry) settings() domain.IndexSettings {
	searchable := e.SearchableAttributes
	if len(searchable) == 0 {
		searchable = []string{domain.WildcardAttribute}
	}

	typo := domain.DefaultTypoConfig()
	if e.TypoTolerance != nil {
		if e.TypoTolerance.Enabled != nil {
			typo.Enabled = *e.TypoTolerance.Enabled
		}
		if e.TypoTolerance.MinWordSizeOneTypo > 0 {
			typo.MinWordSizeOneTypo = e.TypoTolerance.MinWordSizeOneTypo
		}
		if e.TypoTolerance.MinWordSizeTwoTypos > 0 {
			typo.MinWordSizeTwoTypos = e.TypoTolerance.MinWordSizeTwoTypos
		}
		if e.TypoTolerance.DisableOnAttributes != nil {
			typo.DisableOnAttributes = e.TypoTolerance.DisableOnAttributes
		}
		if e.TypoTolerance.DisableOnWords != nil {
			typo.DisableOnWords = e.TypoTolerance.DisableOnWords
		}
	}

	return domain.IndexSettings{
		UID:                  e.UID,
		PrimaryKey:           e.PrimaryKey,
		SearchableAttributes: searchable,
		DistinctAttribute:    e.DistinctAttribute,
		TypoTolerance:        typo,
		Embedders:            e.Embedders,
	}
}

func (c *IndexCatalog) IndexSettings(indexUID string) (domain.IndexSettings, bool) {
	settings, ok := c.indexes[indexUID]
	return settings, ok
}

func (c *IndexCatalog) DistinctScope(indexUID string) string {
	return c.scopes[indexUID]
}

// UIDs lists the configured indexes in declaration order.
func (c *IndexCatalog) UIDs() []string {
	return slices.Clone(c.order)
}
