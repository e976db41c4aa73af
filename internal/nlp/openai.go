package nlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI implements Backend with the official openai-go SDK: chat
// completions for suggestions, Whisper for transcription.
type OpenAI struct {
	suggestModel    string
	transcribeModel string
	opts            []option.RequestOption
}

func NewOpenAI(cfg Settings) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing")
	}
	if cfg.SuggestModel == "" || cfg.TranscribeModel == "" {
		return nil, errors.New("openai model names are required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		suggestModel:    cfg.SuggestModel,
		transcribeModel: cfg.TranscribeModel,
		opts:            opts,
	}, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, wav []byte) (string, error) {
	client := openai.NewClient(o.opts...)
	resp, err := client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "command.wav", "audio/wav"),
		Model: openai.AudioModel(o.transcribeModel),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (o *OpenAI) Suggest(ctx context.Context, text string, n int) ([]string, error) {
	client := openai.NewClient(o.opts...)
	prompt := fmt.Sprintf(
		"Rewrite the following paragraph %d different ways, improving clarity and tone. "+
			"Reply with one rewrite per line and nothing else.\n\n%s", n, text)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.suggestModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are an editor proposing redline replacements for legal and business documents."),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("suggest: empty choices")
	}

	lines := strings.Split(resp.Choices[0].Message.Content, "\n")
	suggestions := make([]string, 0, n)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		suggestions = append(suggestions, trimmed)
		if len(suggestions) == n {
			break
		}
	}
	if len(suggestions) == 0 {
		return nil, errors.New("suggest: no usable lines in completion")
	}
	return suggestions, nil
}
