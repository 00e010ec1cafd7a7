package domain

import "fmt"

type EmbedderSource string

const (
	EmbedderSourceUserProvided EmbedderSource = "userProvided"
	EmbedderSourceOllama       EmbedderSource = "ollama"
)

// Distribution recentres similarity scores of an embedder whose raw scores cluster tightly.
type Distribution struct {
	Mean  float64 `json:"mean" yaml:"mean"`
	Sigma float64 `json:"sigma" yaml:"sigma"`
}

type EmbedderSettings struct {
	Source       EmbedderSource `json:"source" yaml:"source"`
	Model        string         `json:"model,omitempty" yaml:"model"`
	Dimensions   int            `json:"dimensions,omitempty" yaml:"dimensions"`
	Distribution *Distribution  `json:"distribution,omitempty" yaml:"distribution"`
	// DocumentTemplate lists the fields concatenated into the text that gets embedded.
	DocumentTemplate []string `json:"documentTemplate,omitempty" yaml:"documentTemplate"`
}

// EmbedsText reports whether the embedder can turn query text into a vector.
func (s EmbedderSettings) EmbedsText() bool {
	return s.Source != EmbedderSourceUserProvided
}

type IndexSettings struct {
	UID                  string                      `json:"uid" yaml:"uid"`
	PrimaryKey           string                      `json:"primaryKey" yaml:"primaryKey"`
	SearchableAttributes []string                    `json:"searchableAttributes" yaml:"searchableAttributes"`
	DistinctAttribute    string                      `json:"distinctAttribute,omitempty" yaml:"distinctAttribute"`
	TypoTolerance        TypoConfig                  `json:"typoTolerance" yaml:"typoTolerance"`
	Embedders            map[string]EmbedderSettings `json:"embedders,omitempty" yaml:"embedders"`
}

func (s IndexSettings) Embedder(name string) (EmbedderSettings, bool) {
	embedder, ok := s.Embedders[name]
	return embedder, ok
}

// Validate checks settings loaded from configuration.
func (s IndexSettings) Validate() error {
	if s.UID == "" {
		return fmt.Errorf("index uid is required")
	}
	if s.PrimaryKey == "" {
		return fmt.Errorf("index %s: primaryKey is required", s.UID)
	}
	typo := s.TypoTolerance
	if typo.MinWordSizeOneTypo > typo.MinWordSizeTwoTypos && typo.MinWordSizeTwoTypos > 0 {
		return fmt.Errorf("index %s: minWordSizeForOneTypo must not exceed minWordSizeForTwoTypos", s.UID)
	}
	for name, embedder := range s.Embedders {
		switch embedder.Source {
		case EmbedderSourceUserProvided:
			if embedder.Dimensions <= 0 {
				return fmt.Errorf("index %s: embedder %s: userProvided embedders need dimensions", s.UID, name)
			}
		case EmbedderSourceOllama:
			if embedder.Model == "" {
				return fmt.Errorf("index %s: embedder %s: model is required", s.UID, name)
			}
		default:
			return fmt.Errorf("index %s: embedder %s: unknown source %q", s.UID, name, embedder.Source)
		}
		if embedder.Distribution != nil && embedder.Distribution.Sigma <= 0 {
			return fmt.Errorf("index %s: embedder %s: distribution sigma must be positive", s.UID, name)
		}
	}
	return nil
}
