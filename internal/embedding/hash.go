package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// maxHashTokens caps how much of a text contributes to its vector, mirroring
// the sequence limit of transformer encoders.
const maxHashTokens = 256

// HashEncoder is an offline, dependency-free encoder based on feature
// hashing. Unigrams and bigrams are hashed into signed buckets, so texts
// that share words end up close together. Han characters count as
// individual tokens since CJK text has no word separators.
type HashEncoder struct {
	dims int
}

// NewHashEncoder returns a HashEncoder producing vectors of the given size.
// If dims <= 0, DefaultDimensions is used.
func NewHashEncoder(dims int) *HashEncoder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEncoder{dims: dims}
}

// Encode hashes text into a unit vector. Empty text yields the zero vector.
func (e *HashEncoder) Encode(_ context.Context, text string) (Vector, error) {
	vec := make(Vector, e.dims)
	tokens := tokenize(text, maxHashTokens)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return Normalize(vec), nil
}

// Dimensions returns the vector size.
func (e *HashEncoder) Dimensions() int { return e.dims }

func (e *HashEncoder) add(vec Vector, feature string, weight float32) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()
	idx := int(sum % uint32(e.dims))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize lower-cases text and splits it into word tokens, stopping after
// limit tokens.
func tokenize(text string, limit int) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if len(tokens) >= limit {
			break
		}
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	if len(tokens) < limit {
		flush()
	}
	return tokens
}
