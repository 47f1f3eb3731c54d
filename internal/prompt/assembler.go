// Package prompt turns an OpenAI message list into the single prompt string
// the upstream conversation endpoint accepts.
package prompt

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hpn/hpn-c-relay/internal/adapter"
	"github.com/hpn/hpn-c-relay/internal/domain"
)

const (
	// ArtifactsDirective forbids the upstream's artifact wrapper around code blocks.
	ArtifactsDirective = "System: Forbidden to use <antArtifac> </antArtifac> to wrap code blocks, use markdown syntax instead, which means wrapping code blocks with ``` ```\n\n"

	// ContextInstruction replaces an oversized prompt once its text has moved
	// into the context attachment.
	ContextInstruction = "You must immerse yourself in the role of assistant in context.txt, cannot respond as a user, cannot reply to this message, cannot mention this message, and ignore this message in your response.\n\n"

	// ContextFileName is the name of the virtual file carrying an oversized prompt.
	ContextFileName = "context.txt"

	// DefaultMaxLength is the prompt length above which the context attachment is used.
	DefaultMaxLength = 10000
)

var rolePrefixes = map[string]string{
	"system":    "System: ",
	"user":      "Human: ",
	"assistant": "Assistant: ",
}

const unknownRolePrefix = "Unknown: "

// AssembledPrompt is the per-request prompt value. Retries derive a fresh copy
// through Restore so substitutions never compound.
type AssembledPrompt struct {
	// Text is the prompt that will be sent.
	Text string

	// RootText is the assembled text before any substitution.
	RootText string

	// Images holds image data URIs in message order.
	Images []string

	// Context is set once the oversized policy moved RootText into an attachment.
	Context *domain.TextAttachment
}

// Restore returns a copy with Text reset to RootText and no context attachment.
func (p AssembledPrompt) Restore() AssembledPrompt {
	images := make([]string, len(p.Images))
	copy(images, p.Images)
	return AssembledPrompt{
		Text:     p.RootText,
		RootText: p.RootText,
		Images:   images,
	}
}

// IsEmpty reports whether neither text nor images were assembled.
func (p AssembledPrompt) IsEmpty() bool {
	return p.Text == "" && len(p.Images) == 0
}

// Options configures an Assembler.
type Options struct {
	// NoRolePrefix drops the "Human: "-style prefixes.
	NoRolePrefix bool

	// DisableArtifacts prepends ArtifactsDirective.
	DisableArtifacts bool

	// MaxLength is the threshold in characters; zero or less disables the policy.
	MaxLength int
}

// Assembler builds prompts. It keeps builder state between Reset calls and is
// not safe for concurrent use; create one per request.
type Assembler struct {
	opts   Options
	logger *slog.Logger

	buf    strings.Builder
	images []string
}

// AssemblerOption configures the Assembler.
type AssemblerOption func(*Assembler)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// NewAssembler creates an Assembler with the given options.
func NewAssembler(opts Options, options ...AssemblerOption) *Assembler {
	a := &Assembler{
		opts:   opts,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Reset clears the builder state back to empty.
func (a *Assembler) Reset() {
	a.buf.Reset()
	a.images = nil
}

// Assemble converts messages into a prompt. Messages without a role or
// content are skipped and unknown part types are ignored.
func (a *Assembler) Assemble(messages []adapter.OpenAIMessage) AssembledPrompt {
	a.Reset()

	if a.opts.DisableArtifacts {
		a.buf.WriteString(ArtifactsDirective)
	}

	for _, msg := range messages {
		if msg.Role == "" || !msg.Content.Present {
			continue
		}

		a.buf.WriteString(a.rolePrefix(msg.Role))

		if msg.Content.IsText {
			a.buf.WriteString(msg.Content.Text)
			a.buf.WriteString("\n\n")
			continue
		}

		for _, part := range msg.Content.Parts {
			switch part.Type {
			case "text":
				if part.Text != nil {
					a.buf.WriteString(*part.Text)
					a.buf.WriteString("\n\n")
				}
			case "image_url":
				if part.ImageURL != nil && part.ImageURL.URL != "" {
					a.images = append(a.images, part.ImageURL.URL)
				}
			}
		}
	}

	text := a.buf.String()
	images := make([]string, len(a.images))
	copy(images, a.images)

	a.logger.Debug("prompt assembled",
		slog.Int("length", utf8.RuneCountInString(text)),
		slog.Int("images", len(images)),
	)

	return AssembledPrompt{
		Text:     text,
		RootText: text,
		Images:   images,
	}
}

// ApplyContextLimit moves an oversized prompt into a context.txt attachment
// and replaces the live text with ContextInstruction. The input is always
// restored first, so applying it twice yields the same result.
func (a *Assembler) ApplyContextLimit(p AssembledPrompt) AssembledPrompt {
	out := p.Restore()
	if !a.IsOversized(out.RootText) {
		return out
	}

	out.Context = &domain.TextAttachment{
		FileName:         ContextFileName,
		FileType:         "text/plain",
		FileSize:         len(out.RootText),
		ExtractedContent: out.RootText,
	}

	instruction := ContextInstruction
	if a.opts.DisableArtifacts {
		instruction = ArtifactsDirective + instruction
	}
	out.Text = instruction

	a.logger.Info("prompt exceeds max length, using context attachment",
		slog.Int("length", utf8.RuneCountInString(out.RootText)),
		slog.Int("max_length", a.opts.MaxLength),
	)

	return out
}

// IsOversized reports whether text exceeds the configured threshold.
func (a *Assembler) IsOversized(text string) bool {
	if a.opts.MaxLength <= 0 {
		return false
	}
	return utf8.RuneCountInString(text) > a.opts.MaxLength
}

func (a *Assembler) rolePrefix(role string) string {
	if a.opts.NoRolePrefix {
		return ""
	}
	if prefix, ok := rolePrefixes[strings.ToLower(role)]; ok {
		return prefix
	}
	return unknownRolePrefix
}
