package domain

import (
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMinWordSizeOneTypo  = 5
	DefaultMinWordSizeTwoTypos = 9

	WildcardAttribute = "*"
)

type TypoConfig struct {
	Enabled             bool     `json:"enabled" yaml:"enabled"`
	MinWordSizeOneTypo  int      `json:"minWordSizeForOneTypo" yaml:"minWordSizeForOneTypo"`
	MinWordSizeTwoTypos int      `json:"minWordSizeForTwoTypos" yaml:"minWordSizeForTwoTypos"`
	DisableOnAttributes []string `json:"disableOnAttributes" yaml:"disableOnAttributes"`
	DisableOnWords      []string `json:"disableOnWords" yaml:"disableOnWords"`
}

func DefaultTypoConfig() TypoConfig {
	return TypoConfig{
		Enabled:             true,
		MinWordSizeOneTypo:  DefaultMinWordSizeOneTypo,
		MinWordSizeTwoTypos: DefaultMinWordSizeTwoTypos,
		DisableOnAttributes: []string{},
		DisableOnWords:      []string{},
	}
}

// AllowedTypos returns the edit budget {0,1,2} for token when matched inside attribute.
// Length is counted in code points of the NFC form, never in bytes.
func (c TypoConfig) AllowedTypos(token, attribute string) int {
	if !c.Enabled {
		return 0
	}
	if slices.Contains(c.DisableOnAttributes, attribute) {
		return 0
	}
	token = norm.NFC.String(token)
	if c.disabledOnWord(token) {
		return 0
	}

	oneTypo := c.MinWordSizeOneTypo
	if oneTypo <= 0 {
		oneTypo = DefaultMinWordSizeOneTypo
	}
	twoTypos := c.MinWordSizeTwoTypos
	if twoTypos <= 0 {
		twoTypos = DefaultMinWordSizeTwoTypos
	}

	length := utf8.RuneCountInString(token)
	switch {
	case length < oneTypo:
		return 0
	case length < twoTypos:
		return 1
	default:
		return 2
	}
}

func (c TypoConfig) disabledOnWord(token string) bool {
	for _, word := range c.DisableOnWords {
		if strings.EqualFold(norm.NFC.String(word), token) {
			return true
		}
	}
	return false
}

// ResolveSearchAttributes expands a requested attribute list into concrete attribute names.
// The wildcard resolves to the searchable attributes, and to every known field when those are
// themselves a wildcard. Explicit and wildcard-resolved names come out in the same form so that
// per-attribute settings are looked up identically for both.
func ResolveSearchAttributes(requested, searchable, known []string) []string {
	if len(searchable) == 0 {
		searchable = []string{WildcardAttribute}
	}
	if len(requested) == 0 {
		requested = []string{WildcardAttribute}
	}

	base := searchable
	if slices.Contains(searchable, WildcardAttribute) {
		base = known
	}

	seen := make(map[string]struct{}, len(base))
	out := make([]string, 0, len(base))
	add := func(attribute string) {
		if _, ok := seen[attribute]; ok {
			return
		}
		seen[attribute] = struct{}{}
		out = append(out, attribute)
	}

	for _, attribute := range requested {
		if attribute == WildcardAttribute {
			for _, concrete := range base {
				add(concrete)
			}
			continue
		}
		add(attribute)
	}
	return out
}

// IsSearchable reports whether attribute may be searched under the searchable list.
func IsSearchable(attribute string, searchable []string) bool {
	if len(searchable) == 0 || slices.Contains(searchable, WildcardAttribute) {
		return true
	}
	return slices.Contains(searchable, attribute)
}
