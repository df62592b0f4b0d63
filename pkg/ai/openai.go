package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "suggestion_duration_seconds",
		Help:      "Duration of AI suggestion requests",
	}, []string{"model", "kind"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "suggestion_failures_total",
		Help:      "Number of AI suggestion failures",
	}, []string{"model", "kind"})
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig defines configuration options for the OpenAI suggester.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAISuggester implements Suggester against the OpenAI chat completion API.
type OpenAISuggester struct {
	client chatClient
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAISuggester builds a suggester using the provided configuration.
func NewOpenAISuggester(cfg OpenAIConfig) (*OpenAISuggester, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return newOpenAISuggester(openai.NewClientWithConfig(openai.DefaultConfig(cfg.APIKey)), cfg), nil
}

func newOpenAISuggester(client chatClient, cfg OpenAIConfig) *OpenAISuggester {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OpenAISuggester{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-assessment-api/pkg/ai/openai"),
		logger: logger.With().Str("component", "openai_suggester").Logger(),
	}
}

// DraftAssessment asks the model for a quiz and validates the reply.
func (s *OpenAISuggester) DraftAssessment(ctx context.Context, req AssessmentRequest) (AssessmentDraft, error) {
	content, err := s.complete(ctx, "assessment", assessmentSystemPrompt(), buildAssessmentPrompt(req))
	if err != nil {
		return AssessmentDraft{}, err
	}

	draft, err := ParseAssessmentDraft([]byte(content))
	if err != nil {
		aiFailures.WithLabelValues(s.cfg.Model, "assessment").Inc()
		s.logger.Warn().Err(err).Msg("discarding invalid assessment draft")
		return AssessmentDraft{}, err
	}
	return draft, nil
}

// DraftGrade asks the model for a score and feedback and validates the reply.
func (s *OpenAISuggester) DraftGrade(ctx context.Context, req GradeRequest) (GradeDraft, error) {
	content, err := s.complete(ctx, "grade", gradeSystemPrompt(), buildGradePrompt(req))
	if err != nil {
		return GradeDraft{}, err
	}

	draft, err := ParseGradeDraft([]byte(content), req.MaxPoints)
	if err != nil {
		aiFailures.WithLabelValues(s.cfg.Model, "grade").Inc()
		s.logger.Warn().Err(err).Msg("discarding invalid grade draft")
		return GradeDraft{}, err
	}
	return draft, nil
}

func (s *OpenAISuggester) complete(parent context.Context, kind, system, user string) (string, error) {
	ctx, span := s.tracer.Start(parent, "openai.suggest", trace.WithAttributes(
		attribute.String("model", s.cfg.Model),
		attribute.String("kind", kind),
	))
	defer span.End()

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	aiDuration.WithLabelValues(s.cfg.Model, kind).Observe(time.Since(start).Seconds())
	if err != nil {
		aiFailures.WithLabelValues(s.cfg.Model, kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("openai %s suggestion: %w", kind, err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(s.cfg.Model, kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func assessmentSystemPrompt() string {
	return "You draft quiz questions for teachers. Respond with a JSON object with title, description and questions. " +
		"Each question has type (multiple_choice, true_false or short_answer), prompt and points. Multiple choice " +
		"questions list options and a zero-based correct_index. True/false questions set correct to \"True\" or \"False\". " +
		"Short answer questions may include a reference_answer."
}

func gradeSystemPrompt() string {
	return "You help teachers grade short written answers. Respond with a JSON object containing score (a number " +
		"between 0 and the maximum points), feedback addressed to the student, and an optional rationale for the teacher."
}

func buildAssessmentPrompt(req AssessmentRequest) string {
	builder := strings.Builder{}
	builder.WriteString("# Topic\n")
	builder.WriteString(req.Topic)
	if req.CourseContext != "" {
		builder.WriteString("\n\n## Course\n")
		builder.WriteString(req.CourseContext)
	}
	count := req.QuestionCount
	if count <= 0 {
		count = 5
	}
	builder.WriteString(fmt.Sprintf("\n\n## Questions\n%d", count))
	if len(req.QuestionTypes) > 0 {
		builder.WriteString("\n\n## Allowed types\n")
		builder.WriteString(strings.Join(req.QuestionTypes, ", "))
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func buildGradePrompt(req GradeRequest) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("# Maximum points\n%g\n", req.MaxPoints))
	for i, question := range req.Questions {
		builder.WriteString(fmt.Sprintf("\n## Question %d (%g points)\n", i+1, question.Points))
		builder.WriteString(question.Prompt)
		if question.ReferenceAnswer != "" {
			builder.WriteString("\n### Reference answer\n")
			builder.WriteString(question.ReferenceAnswer)
		}
		builder.WriteString("\n### Student answer\n")
		builder.WriteString(question.StudentAnswer)
		builder.WriteString("\n")
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}
