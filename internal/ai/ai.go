// Package ai drafts reply bodies and answers the yes/no auto-reply question
// using a hosted language model, with an offline template fallback.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/znz-systems/mailpilot/internal/models"
)

const defaultMaxTokens = 512

var ErrEmptyResponse = errors.New("model returned no text")

// Generator produces the body text of a reply.
type Generator interface {
	GenerateReply(ctx context.Context, thread *models.Thread, hint string) (string, error)
}

// Classifier decides whether a thread is safe to answer automatically.
type Classifier interface {
	Classify(ctx context.Context, thread *models.Thread) (bool, error)
}

// completer is the single round-trip both hosted backends implement.
type completer interface {
	complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

const replySystem = "You are an email assistant. Write a short, polite, plain-text reply " +
	"to the message you are given. Do not include a subject line, greeting " +
	"placeholders or a signature block. Never promise actions on the owner's behalf."

const classifySystem = "You decide whether an email can be answered by an automatic " +
	"acknowledgement without human review. Answer with exactly one word: YES or NO. " +
	"Answer NO for anything sensitive, legal, financial, personal, or that asks a " +
	"question only the owner can answer."

func replyPrompt(thread *models.Thread, hint string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\n", thread.From)
	fmt.Fprintf(&sb, "Subject: %s\n\n", thread.Subject)
	sb.WriteString(truncate(thread.Text(), 6000))
	if hint = strings.TrimSpace(hint); hint != "" {
		fmt.Fprintf(&sb, "\n\nInstructions from the mailbox owner: %s", hint)
	}
	return sb.String()
}

func classifyPrompt(thread *models.Thread) string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", thread.From, thread.Subject, truncate(thread.Text(), 4000))
}

func generateReply(ctx context.Context, c completer, maxTokens int, thread *models.Thread, hint string) (string, error) {
	text, err := c.complete(ctx, replySystem, replyPrompt(thread, hint), maxTokens)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func classify(ctx context.Context, c completer, thread *models.Thread) (bool, error) {
	text, err := c.complete(ctx, classifySystem, classifyPrompt(thread), 8)
	if err != nil {
		return false, err
	}
	return parseVerdict(text)
}

// parseVerdict reads the first word of a YES/NO answer.
func parseVerdict(text string) (bool, error) {
	fields := strings.Fields(strings.ToUpper(text))
	if len(fields) == 0 {
		return false, ErrEmptyResponse
	}
	switch strings.Trim(fields[0], ".,!:;\"'") {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected classifier answer %q", text)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
