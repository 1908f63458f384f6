// Package normalizers canonicalizes extracted names so identical real-world names share one key.
package normalizers

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

// DefaultHonorifics are the trailing titles stripped from person names.
var DefaultHonorifics = []string{
	"副委員長", "委員長", "副議長", "議長", "議員", "先生", "大臣",
	"さん", "君", "氏", "様", "殿",
}

var defaultNameNormalizer = NewNameNormalizer(nil)

func init() {
	Register("trim", Trim)
	Register("fold_width", FoldWidth)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("remove_whitespace", RemoveWhitespace)
	Register("nname", defaultNameNormalizer.Normalize)
	Register("nparty", PartyKey)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names leave the value untouched.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// NameNormalizer turns raw extracted names into identity keys.
type NameNormalizer struct {
	honorifics []string
}

// NewNameNormalizer builds a normalizer for the given honorific suffixes.
// A nil or empty list uses DefaultHonorifics.
func NewNameNormalizer(honorifics []string) *NameNormalizer {
	if len(honorifics) == 0 {
		honorifics = DefaultHonorifics
	}

	sorted := make([]string, 0, len(honorifics))
	for _, h := range honorifics {
		h = CollapseWhitespace(FoldWidth(strings.TrimSpace(h)))
		if h != "" {
			sorted = append(sorted, h)
		}
	}
	// Longest first so 副委員長 wins over 委員長.
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i]) > utf8.RuneCountInString(sorted[j])
	})

	return &NameNormalizer{honorifics: sorted}
}

// Normalize trims, folds width variants, collapses whitespace, strips one trailing
// honorific and trims again. It never fails and may return "".
func (n *NameNormalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = FoldWidth(s)
	s = CollapseWhitespace(s)

	for _, h := range n.honorifics {
		if strings.HasSuffix(s, h) {
			s = strings.TrimSuffix(s, h)
			break
		}
	}

	return strings.TrimSpace(s)
}

// NormalizeName normalizes with the default honorific list.
func NormalizeName(raw string) string {
	return defaultNameNormalizer.Normalize(raw)
}

// Built-in normalizers

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// FoldWidth applies NFKC, mapping the ideographic space and full-width ASCII to their plain forms.
func FoldWidth(s string) string {
	return norm.NFKC.String(s)
}

// CollapseWhitespace replaces every whitespace run with a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// PartyKey reduces a party or group name to a comparison key.
func PartyKey(s string) string {
	return strings.ToLower(RemoveWhitespace(FoldWidth(s)))
}
