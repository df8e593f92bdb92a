package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	systemPrompt     = "Você é um astrólogo experiente que escreve textos acolhedores, claros e objetivos em português do Brasil."
	emptyTextSummary = "Nenhuma previsão disponível para análise."
	defaultSentiment = "Neutro"
	defaultCoherence = 0.7
)

var errNoSummary = errors.New("analyzer response carries no summary")

// Result is the outcome of an analysis. Generated is false whenever the
// heuristic produced it.
type Result struct {
	Summary    string   `json:"summary"`
	Sentiment  string   `json:"sentiment"`
	Coherence  float64  `json:"coherence"`
	Highlights []string `json:"highlights"`
	Generated  bool     `json:"generated"`
}

type Config struct {
	Enabled     bool
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type Service struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewService(cfg Config, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Analyze asks the AI endpoint for a summary and falls back to the local
// heuristic on any failure. It never returns an error for upstream faults.
func (s *Service) Analyze(ctx context.Context, subject string, texts []string) (*Result, error) {
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}

	if len(cleaned) == 0 {
		return &Result{Summary: emptyTextSummary, Sentiment: "Indefinido", Coherence: 0, Highlights: []string{}}, nil
	}

	if s.aiEnabled() {
		res, err := s.callAI(ctx, subject, cleaned)
		if err == nil {
			return res, nil
		}
		s.logger.Warn("ai analysis failed, using heuristic", "subject", subject, "error", err)
	}

	return Heuristic(subject, cleaned), nil
}

func (s *Service) aiEnabled() bool {
	return s.cfg.Enabled && s.cfg.Endpoint != "" && s.cfg.Model != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type aiPayload struct {
	Summary    string   `json:"summary"`
	Sentiment  *string  `json:"sentiment"`
	Coherence  *float64 `json:"coherence"`
	Highlights []string `json:"highlights"`
}

func (s *Service) callAI(ctx context.Context, subject string, texts []string) (*Result, error) {
	body, err := json.Marshal(chatRequest{
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(subject, texts)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ai request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ai endpoint returned status %d", resp.StatusCode)
	}

	return extractResult(raw)
}

// extractResult reads choices[0].message.content, or the body itself when
// the endpoint answers with the payload directly.
func extractResult(raw []byte) (*Result, error) {
	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err == nil && len(chat.Choices) > 0 {
		content := strings.TrimSpace(chat.Choices[0].Message.Content)
		if content != "" {
			return parsePayload([]byte(stripCodeFence(content)))
		}
	}
	return parsePayload(raw)
}

func parsePayload(data []byte) (*Result, error) {
	var p aiPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode ai payload: %w", err)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return nil, errNoSummary
	}

	res := &Result{
		Summary:    p.Summary,
		Sentiment:  defaultSentiment,
		Coherence:  defaultCoherence,
		Highlights: []string{},
		Generated:  true,
	}
	if p.Sentiment != nil && *p.Sentiment != "" {
		res.Sentiment = *p.Sentiment
	}
	if p.Coherence != nil {
		res.Coherence = *p.Coherence
	}
	for _, h := range p.Highlights {
		if strings.TrimSpace(h) != "" {
			res.Highlights = append(res.Highlights, h)
		}
	}
	return res, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func buildPrompt(subject string, texts []string) string {
	var sb strings.Builder
	sb.WriteString("Tema: ")
	sb.WriteString(subject)
	sb.WriteString(".\n\n")
	sb.WriteString(`Retorne somente um JSON com o formato: {"summary": string, "sentiment": string (Positivo, Neutro ou Negativo), "coherence": number entre 0 e 1, "highlights": [string,...]}. O campo summary deve conter o texto final pronto para ser exibido ao usuário.`)
	sb.WriteString("\n\n")
	for i, t := range texts {
		fmt.Fprintf(&sb, "Fonte %d: %s\n\n", i+1, t)
	}
	sb.WriteString("Certifique-se de que a resposta seja somente o JSON.")
	return sb.String()
}
