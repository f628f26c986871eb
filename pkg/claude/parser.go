// Package claude invokes the Claude Code CLI as a subprocess and parses its
// stream-json transcript.
package claude

import (
	"encoding/json"
	"strings"

	"github.com/nikitparakh/auto-claude-docker/pkg/faults"
)

// Turn types emitted by the CLI in stream-json mode.
const (
	TurnTypeSystem    = "system"
	TurnTypeAssistant = "assistant"
	TurnTypeResult    = "result"
)

// maxSampleLen bounds the malformed-line sample attached to parse errors.
const maxSampleLen = 200

// Turn is one parsed transcript event.
type Turn struct {
	// Type is the event type ("system", "assistant", "result").
	Type string `json:"type"`

	// Subtype refines system events (e.g. "init").
	Subtype string `json:"subtype,omitempty"`

	// SessionHandle is the conversation identifier the CLI reports on init
	// and result events.
	SessionHandle string `json:"session_id,omitempty"`

	// Message carries assistant message content (for type="assistant").
	Message *AssistantMessage `json:"message,omitempty"`

	// ResultText is the final result text (for type="result").
	ResultText string `json:"result,omitempty"`

	// IsError marks a result event the CLI flagged as failed.
	IsError bool `json:"is_error,omitempty"`

	// Raw is the original JSON line.
	Raw string `json:"-"`
}

// AssistantMessage is the message body of an assistant turn.
type AssistantMessage struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Model   string         `json:"model,omitempty"`
}

// ContentBlock is one block of assistant message content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

// ParseLine parses one transcript line. Blank lines return (nil, nil); a line
// that is not valid JSON is a malformed-output fault carrying a truncated
// sample for diagnostics.
func ParseLine(line string) (*Turn, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	var turn Turn
	if err := json.Unmarshal([]byte(line), &turn); err != nil {
		return nil, faults.WithCause(faults.KindAgentOutputMalformed, err,
			"unparseable transcript line: "+faults.TruncateSample(line, maxSampleLen))
	}
	turn.Raw = line
	return &turn, nil
}

// ParseTranscript parses all lines of a completed invocation. Parsing is
// strict: a single malformed line fails the whole transcript, because a
// partially understood conversation is worse than a clean failure.
func ParseTranscript(lines []string) ([]Turn, error) {
	turns := make([]Turn, 0, len(lines))
	for _, line := range lines {
		turn, err := ParseLine(line)
		if err != nil {
			return nil, err
		}
		if turn != nil {
			turns = append(turns, *turn)
		}
	}
	return turns, nil
}

// SessionHandle returns the conversation identifier from the transcript, or
// "" if no turn carried one.
func SessionHandle(turns []Turn) string {
	for i := range turns {
		if turns[i].SessionHandle != "" {
			return turns[i].SessionHandle
		}
	}
	return ""
}

// ResultTexts collects the text of all result turns in order.
func ResultTexts(turns []Turn) []string {
	var texts []string
	for i := range turns {
		if turns[i].Type == TurnTypeResult && turns[i].ResultText != "" {
			texts = append(texts, turns[i].ResultText)
		}
	}
	return texts
}

// AssistantTexts collects all assistant text blocks in order.
func AssistantTexts(turns []Turn) []string {
	var texts []string
	for i := range turns {
		if turns[i].Type != TurnTypeAssistant || turns[i].Message == nil {
			continue
		}
		for _, block := range turns[i].Message.Content {
			if block.Type == "text" && block.Text != "" {
				texts = append(texts, block.Text)
			}
		}
	}
	return texts
}

// FinalResult returns the last result turn, or nil if the transcript has none.
func FinalResult(turns []Turn) *Turn {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Type == TurnTypeResult {
			return &turns[i]
		}
	}
	return nil
}
