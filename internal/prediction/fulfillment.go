package prediction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const fallbackTemplate = "%s, esta mensagem é para trazer confiança sobre %s. Mantenha a mente %s e avance com coragem."

var themePrompts = map[Theme]string{
	ThemeLove:    "Escreva uma previsão astrológica curta sobre amor e relacionamentos",
	ThemeWork:    "Escreva uma previsão astrológica curta sobre trabalho e carreira",
	ThemeFamily:  "Escreva uma previsão astrológica curta sobre família e convivência em casa",
	ThemeFriends: "Escreva uma previsão astrológica curta sobre amizades e vida social",
}

// FulfillmentGenerator produces the message delivered once a purchase is paid.
type FulfillmentGenerator struct {
	analyzer TextAnalyzer
	logger   *slog.Logger
}

func NewFulfillmentGenerator(analyzer TextAnalyzer, logger *slog.Logger) *FulfillmentGenerator {
	return &FulfillmentGenerator{analyzer: analyzer, logger: logger}
}

// Generate never fails. Anything short of an AI-generated summary yields
// the deterministic fallback.
func (g *FulfillmentGenerator) Generate(ctx context.Context, theme Theme, requester string, partner *string, sentiment Sentiment) string {
	if g.analyzer == nil {
		return FallbackMessage(theme, requester, sentiment)
	}

	result, err := g.analyzer.Analyze(ctx, theme.Label(), []string{buildPrompt(theme, requester, partner, sentiment)})
	if err != nil {
		g.logger.Warn("fulfillment generation failed, using fallback", "theme", theme, "error", err)
		return FallbackMessage(theme, requester, sentiment)
	}
	if result == nil || !result.Generated || strings.TrimSpace(result.Summary) == "" {
		g.logger.Debug("analyzer returned no generated summary, using fallback", "theme", theme)
		return FallbackMessage(theme, requester, sentiment)
	}
	return strings.TrimSpace(result.Summary)
}

func FallbackMessage(theme Theme, requester string, sentiment Sentiment) string {
	mood := "serena"
	if sentiment == SentimentPositive {
		mood = "positiva"
	}
	return fmt.Sprintf(fallbackTemplate, requester, theme.Label(), mood)
}

func buildPrompt(theme Theme, requester string, partner *string, sentiment Sentiment) string {
	var sb strings.Builder
	prompt, ok := themePrompts[theme]
	if !ok {
		prompt = "Escreva uma previsão astrológica curta sobre " + theme.Label()
	}
	sb.WriteString(prompt)
	sb.WriteString(" para ")
	sb.WriteString(requester)
	if partner != nil && *partner != "" {
		sb.WriteString(" e ")
		sb.WriteString(*partner)
	}
	if sentiment == SentimentPositive {
		sb.WriteString(", com tom otimista e encorajador.")
	} else {
		sb.WriteString(", com tom cauteloso e acolhedor.")
	}
	sb.WriteString(" Use linguagem humanizada e palavras fáceis, em no máximo quatro frases.")
	return sb.String()
}
