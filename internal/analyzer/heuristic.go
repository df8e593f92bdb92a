package analyzer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	nonLetters    = regexp.MustCompile(`[^a-záéíóúàâêôçãõ\s]`)
	positiveWords = map[string]struct{}{
		"feliz": {}, "alegria": {}, "sorte": {}, "sucesso": {}, "amor": {},
		"prazer": {}, "otimismo": {}, "boas": {}, "vibes": {},
	}
	negativeWords = map[string]struct{}{
		"problema": {}, "tensão": {}, "cuidado": {}, "risco": {},
		"triste": {}, "evite": {}, "difícil": {},
	}
)

const maxHighlights = 5

// Heuristic summarises texts by word frequency and a small sentiment lexicon.
func Heuristic(subject string, texts []string) *Result {
	combined := nonLetters.ReplaceAllString(strings.ToLower(strings.Join(texts, " ")), " ")
	words := strings.Fields(combined)

	freq := make(map[string]int)
	positives, negatives := 0, 0
	for _, w := range words {
		if utf8.RuneCountInString(w) > 3 {
			freq[w]++
		}
		if _, ok := positiveWords[w]; ok {
			positives++
		}
		if _, ok := negativeWords[w]; ok {
			negatives++
		}
	}

	top := topWords(freq, maxHighlights)

	sentiment := "Neutro"
	switch {
	case positives > negatives:
		sentiment = "Positivo"
	case negatives > positives:
		sentiment = "Negativo"
	}

	coherence := float64(len(top)) / float64(maxHighlights)
	if coherence < 0.1 {
		coherence = 0.1
	}
	if coherence > 1 {
		coherence = 1
	}

	summary := "As previsões apresentam perspectivas variadas, sugerindo reflexão e equilíbrio."
	if len(top) > 0 {
		summary = fmt.Sprintf("As fontes convergem em temas como %s para %s.", strings.Join(top, ", "), strings.ToLower(subject))
	}

	return &Result{
		Summary:    summary,
		Sentiment:  sentiment,
		Coherence:  coherence,
		Highlights: top,
		Generated:  false,
	}
}

// topWords orders by count descending, then alphabetically for stable output.
func topWords(freq map[string]int, limit int) []string {
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}
