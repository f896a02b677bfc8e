// Package extract turns normalized text into a capped list of atomic,
// verifiable claims. An LLM pass does the extraction; a keyword heuristic
// covers LLM failure so the pipeline never stalls on a flaky model.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/llm"
)

const extractionSystemPrompt = `You extract verifiable factual claims from text.
A claim is a single atomic statement that could be checked against external sources.
Discard opinions, predictions, questions and instructions.
Respond with JSON: {"claims": ["claim one", "claim two", ...]}.
If the text contains no verifiable claims, respond with {"claims": []}.`

// Extractor extracts claims from normalized text.
type Extractor struct {
	chatter   llm.Chatter
	model     string
	maxClaims int
	logger    *zap.Logger
}

// New creates an Extractor. maxClaims caps the output; overflow is
// truncated by salience so the same input always keeps the same claims.
func New(chatter llm.Chatter, extractionModel string, maxClaims int, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		chatter:   chatter,
		model:     extractionModel,
		maxClaims: maxClaims,
		logger:    logger,
	}
}

// Extract returns at most maxClaims claims in document order. An empty
// slice is a valid result, not an error.
func (e *Extractor) Extract(ctx context.Context, text string) ([]string, error) {
	claims, err := e.extractLLM(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("llm extraction failed, using keyword heuristic", zap.Error(err))
		claims = HeuristicClaims(text)
	}

	claims = dedupe(claims)
	return truncateBySalience(claims, e.maxClaims), nil
}

func (e *Extractor) extractLLM(ctx context.Context, text string) ([]string, error) {
	out, err := llm.ChatWithRetry(ctx, e.chatter, llm.Request{
		Model:       e.model,
		System:      extractionSystemPrompt,
		User:        text,
		Temperature: 0,
		JSONOnly:    true,
	}, time.Second)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Claims []string `json:"claims"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("parse extraction output: %w", err)
	}

	claims := make([]string, 0, len(parsed.Claims))
	for _, c := range parsed.Claims {
		c = strings.TrimSpace(c)
		if c != "" {
			claims = append(claims, c)
		}
	}
	return claims, nil
}

// factualKeywords mark sentences likely to carry a checkable claim.
var factualKeywords = []string{
	"originated", "origin", "first", "introduced", "invented",
	"according to", "is defined as", "is legally", "under the law",
	"shall", "must", "is required", "established",
	"founded", "created", "discovered", "developed",
	"percent", "million", "billion", "increased", "decreased",
	"reported", "announced", "confirmed", "study", "research",
}

// HeuristicClaims is the deterministic fallback: sentences containing a
// factual keyword, in document order.
func HeuristicClaims(text string) []string {
	var claims []string
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		for _, keyword := range factualKeywords {
			if strings.Contains(lower, keyword) {
				claims = append(claims, sentence)
				break
			}
		}
	}
	return claims
}

// splitSentences splits text on sentence terminators, keeping only
// sentence-sized fragments.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	var current strings.Builder
	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\t') {
				appendSentence(&sentences, current.String())
				current.Reset()
			}
		}
	}
	appendSentence(&sentences, current.String())
	return sentences
}

func appendSentence(sentences *[]string, s string) {
	s = strings.TrimSpace(s)
	if len(s) >= 30 && len(s) <= 500 {
		*sentences = append(*sentences, s)
	}
}

func dedupe(claims []string) []string {
	seen := make(map[string]bool, len(claims))
	var unique []string
	for _, c := range claims {
		key := strings.ToLower(strings.TrimSpace(c))
		if !seen[key] {
			seen[key] = true
			unique = append(unique, c)
		}
	}
	return unique
}

// truncateBySalience keeps the n most specific claims, restoring document
// order afterwards. Salience is a deterministic function of the claim
// text, with the original ordinal breaking ties, so a given input always
// survives truncation the same way.
func truncateBySalience(claims []string, n int) []string {
	if n <= 0 || len(claims) <= n {
		return claims
	}

	type scored struct {
		ordinal int
		score   int
	}
	ranked := make([]scored, len(claims))
	for i, c := range claims {
		ranked[i] = scored{ordinal: i, score: salience(c)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].ordinal < ranked[j].ordinal
	})

	keep := ranked[:n]
	sort.Slice(keep, func(i, j int) bool { return keep[i].ordinal < keep[j].ordinal })

	out := make([]string, 0, n)
	for _, s := range keep {
		out = append(out, claims[s.ordinal])
	}
	return out
}

// salience scores a claim's specificity: digits and capitalized words
// signal checkable content, length adds a small tiebreak.
func salience(claim string) int {
	score := 0
	for _, r := range claim {
		if unicode.IsDigit(r) {
			score += 3
		}
	}
	for i, word := range strings.Fields(claim) {
		if i == 0 || word == "" {
			continue
		}
		if r := []rune(word)[0]; unicode.IsUpper(r) {
			score += 2
		}
	}
	if len(claim) > 80 {
		score++
	}
	return score
}
