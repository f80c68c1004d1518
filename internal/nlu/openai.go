package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/careline/bookingbot/internal/model"
	apperrors "github.com/careline/bookingbot/pkg/errors"
)

const parseSystemPrompt = `You classify one message from a clinic's appointment-booking conversation.
Valid intents: BOOK_APPOINTMENT, CANCEL_APPOINTMENT, RESCHEDULE_APPOINTMENT,
CHECK_APPOINTMENT, GENERAL_INQUIRY, GREETING, CONFIRM, DENY, PROVIDE_INFO,
GOODBYE, UNKNOWN.
Respond with only a JSON object: {"intent": "...", "confidence": 0.0-1.0, "reasoning": "..."}`

const extractSystemPrompt = `You extract entities from one message in a clinic's appointment-booking conversation.
Recognized keys: patient_name, date (YYYY-MM-DD), time (HH:MM 24h), phone (E.164),
date_of_birth (YYYY-MM-DD), doctor_name, department.
Respond with only a JSON object containing the keys you actually found. Omit everything else.`

// OpenAIRecognizer calls the OpenAI chat completion API for intent
// classification and entity extraction.
type OpenAIRecognizer struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAIRecognizer(apiKey, chatModel string, temperature float32) *OpenAIRecognizer {
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	return &OpenAIRecognizer{
		client:      openai.NewClient(apiKey),
		model:       chatModel,
		temperature: temperature,
	}
}

func (r *OpenAIRecognizer) Parse(ctx context.Context, text string, convCtx Context) (*model.Intent, error) {
	content, err := r.complete(ctx, parseSystemPrompt, text, convCtx)
	if err != nil {
		return nil, apperrors.NewCollaborator("nlu", err)
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		return nil, apperrors.NewCollaborator("nlu", fmt.Errorf("unparseable intent response: %w", err))
	}

	name := model.IntentName(strings.ToUpper(strings.TrimSpace(parsed.Intent)))
	if !validIntent(name) {
		name = model.IntentUnknown
	}
	return &model.Intent{Name: name, Confidence: parsed.Confidence, Reasoning: parsed.Reasoning}, nil
}

func (r *OpenAIRecognizer) Extract(ctx context.Context, text string, convCtx Context) (model.EntityBag, error) {
	content, err := r.complete(ctx, extractSystemPrompt, text, convCtx)
	if err != nil {
		return nil, apperrors.NewCollaborator("nlu", err)
	}

	var bag model.EntityBag
	if err := json.Unmarshal([]byte(stripFences(content)), &bag); err != nil {
		return nil, apperrors.NewCollaborator("nlu", fmt.Errorf("unparseable entity response: %w", err))
	}
	return bag, nil
}

func (r *OpenAIRecognizer) complete(ctx context.Context, system, text string, convCtx Context) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleSystem, Content: describeContext(convCtx)},
	}
	for _, m := range convCtx.History {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

func describeContext(convCtx Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation state: %s.", convCtx.State)
	if len(convCtx.Collected) > 0 {
		b.WriteString(" Already collected:")
		for k, v := range convCtx.Collected {
			fmt.Fprintf(&b, " %s=%s", k, v)
		}
		b.WriteString(".")
	}
	return b.String()
}

// stripFences tolerates models that wrap JSON in a markdown code block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func validIntent(name model.IntentName) bool {
	switch name {
	case model.IntentBookAppointment, model.IntentCancel, model.IntentReschedule,
		model.IntentCheck, model.IntentGeneralInquiry, model.IntentGreeting,
		model.IntentConfirm, model.IntentDeny, model.IntentProvideInfo,
		model.IntentGoodbye, model.IntentUnknown:
		return true
	}
	return false
}
