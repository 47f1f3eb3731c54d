package prompt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hpn/hpn-c-relay/internal/adapter"
)

func msg(role, content string) adapter.OpenAIMessage {
	return adapter.OpenAIMessage{Role: role, Content: adapter.TextContent(content)}
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		messages []adapter.OpenAIMessage
		want     string
	}{
		{
			name:     "empty messages",
			messages: nil,
			want:     "",
		},
		{
			name:     "empty messages with artifacts disabled",
			opts:     Options{DisableArtifacts: true},
			messages: nil,
			want:     ArtifactsDirective,
		},
		{
			name: "role prefixes",
			messages: []adapter.OpenAIMessage{
				msg("system", "be brief"),
				msg("user", "hi"),
				msg("assistant", "hello"),
			},
			want: "System: be brief\n\nHuman: hi\n\nAssistant: hello\n\n",
		},
		{
			name:     "role matching ignores case",
			messages: []adapter.OpenAIMessage{msg("USER", "hi")},
			want:     "Human: hi\n\n",
		},
		{
			name:     "unknown role",
			messages: []adapter.OpenAIMessage{msg("tool", "result")},
			want:     "Unknown: result\n\n",
		},
		{
			name: "no role prefix",
			opts: Options{NoRolePrefix: true},
			messages: []adapter.OpenAIMessage{
				msg("user", "hi"),
				msg("assistant", "hello"),
			},
			want: "hi\n\nhello\n\n",
		},
		{
			name: "messages without role or content are skipped",
			messages: []adapter.OpenAIMessage{
				{Role: "", Content: adapter.TextContent("orphan")},
				{Role: "user"},
				msg("user", "kept"),
			},
			want: "Human: kept\n\n",
		},
		{
			name: "artifacts directive precedes messages",
			opts: Options{DisableArtifacts: true},
			messages: []adapter.OpenAIMessage{
				msg("user", "code please"),
			},
			want: ArtifactsDirective + "Human: code please\n\n",
		},
		{
			name: "typed parts",
			messages: []adapter.OpenAIMessage{
				{
					Role: "user",
					Content: adapter.PartsContent(
						adapter.TextPart("first"),
						adapter.ContentPart{Type: "audio"},
						adapter.TextPart("second"),
					),
				},
			},
			want: "Human: first\n\nsecond\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(tt.opts)
			got := a.Assemble(tt.messages)
			if got.Text != tt.want {
				t.Errorf("Assemble().Text = %q, want %q", got.Text, tt.want)
			}
			if got.RootText != got.Text {
				t.Errorf("Assemble().RootText = %q, want %q", got.RootText, got.Text)
			}
		})
	}
}

func TestAssemble_EmptyHasNoImages(t *testing.T) {
	got := NewAssembler(Options{}).Assemble(nil)
	if !got.IsEmpty() {
		t.Errorf("Assemble(nil) = %+v, want empty prompt", got)
	}
	if len(got.Images) != 0 {
		t.Errorf("len(Images) = %d, want 0", len(got.Images))
	}
}

func TestAssemble_ImagesInOrder(t *testing.T) {
	messages := []adapter.OpenAIMessage{
		{
			Role: "user",
			Content: adapter.PartsContent(
				adapter.ImagePart("data:image/png;base64,AAA"),
				adapter.TextPart("look"),
			),
		},
		{
			Role:    "user",
			Content: adapter.PartsContent(adapter.ImagePart("data:image/jpeg;base64,BBB")),
		},
	}

	got := NewAssembler(Options{}).Assemble(messages)

	want := []string{"data:image/png;base64,AAA", "data:image/jpeg;base64,BBB"}
	if len(got.Images) != len(want) {
		t.Fatalf("len(Images) = %d, want %d", len(got.Images), len(want))
	}
	for i := range want {
		if got.Images[i] != want[i] {
			t.Errorf("Images[%d] = %q, want %q", i, got.Images[i], want[i])
		}
	}
	if got.Text != "Human: look\n\nHuman: " {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestAssemble_FromJSON(t *testing.T) {
	body := `{"model":"m","messages":[
		{"role":"system","content":"sys"},
		{"role":"user","content":[{"type":"text","text":"hi"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AA=="}},"junk"]},
		{"role":"user","content":null},
		{"content":"no role"}
	]}`

	var req adapter.OpenAIRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	got := NewAssembler(Options{}).Assemble(req.Messages)
	if got.Text != "System: sys\n\nHuman: hi\n\n" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Images) != 1 {
		t.Errorf("len(Images) = %d, want 1", len(got.Images))
	}
}

func TestAssemble_ResetBetweenCalls(t *testing.T) {
	a := NewAssembler(Options{})

	a.Assemble([]adapter.OpenAIMessage{{
		Role:    "user",
		Content: adapter.PartsContent(adapter.TextPart("one"), adapter.ImagePart("data:x")),
	}})
	got := a.Assemble([]adapter.OpenAIMessage{msg("user", "two")})

	if got.Text != "Human: two\n\n" {
		t.Errorf("second Assemble().Text = %q, want state from the first call cleared", got.Text)
	}
	if len(got.Images) != 0 {
		t.Errorf("second Assemble() carried %d images over", len(got.Images))
	}
}

func TestApplyContextLimit(t *testing.T) {
	long := strings.Repeat("secret context ", 20)
	a := NewAssembler(Options{MaxLength: 50})
	p := a.Assemble([]adapter.OpenAIMessage{msg("user", long)})

	got := a.ApplyContextLimit(p)

	if got.Context == nil {
		t.Fatal("ApplyContextLimit() did not create a context attachment")
	}
	if got.Text != ContextInstruction {
		t.Errorf("Text = %q, want %q", got.Text, ContextInstruction)
	}
	if strings.Contains(got.Text, "secret context") {
		t.Error("substitute prompt contains the original content inline")
	}
	if got.Context.ExtractedContent != p.RootText {
		t.Error("attachment does not carry the original prompt")
	}
	if got.Context.FileName != "context.txt" || got.Context.FileType != "text/plain" {
		t.Errorf("attachment = %s %s, want context.txt text/plain", got.Context.FileName, got.Context.FileType)
	}
	if got.Context.FileSize != len(p.RootText) {
		t.Errorf("FileSize = %d, want %d", got.Context.FileSize, len(p.RootText))
	}
	if got.RootText != p.RootText {
		t.Error("RootText changed by substitution")
	}
}

func TestApplyContextLimit_DoesNotCompound(t *testing.T) {
	a := NewAssembler(Options{MaxLength: 10})
	p := a.Assemble([]adapter.OpenAIMessage{msg("user", strings.Repeat("x", 100))})

	first := a.ApplyContextLimit(p)
	second := a.ApplyContextLimit(first)

	if second.Text != first.Text {
		t.Errorf("second application Text = %q, want %q", second.Text, first.Text)
	}
	if second.Context == nil || second.Context.ExtractedContent != p.RootText {
		t.Error("second application must wrap the root text, not the instruction")
	}
}

func TestApplyContextLimit_UnderThreshold(t *testing.T) {
	a := NewAssembler(Options{MaxLength: 1000})
	p := a.Assemble([]adapter.OpenAIMessage{msg("user", "short")})

	got := a.ApplyContextLimit(p)

	if got.Context != nil {
		t.Error("ApplyContextLimit() attached context for a short prompt")
	}
	if got.Text != p.Text {
		t.Errorf("Text = %q, want %q", got.Text, p.Text)
	}
}

func TestApplyContextLimit_WithArtifactsDirective(t *testing.T) {
	a := NewAssembler(Options{MaxLength: 10, DisableArtifacts: true})
	p := a.Assemble([]adapter.OpenAIMessage{msg("user", strings.Repeat("y", 50))})

	got := a.ApplyContextLimit(p)

	if got.Text != ArtifactsDirective+ContextInstruction {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestIsOversized_CountsCharacters(t *testing.T) {
	a := NewAssembler(Options{MaxLength: 3})

	// three runes, nine bytes
	if a.IsOversized("日本語") {
		t.Error("IsOversized() counted bytes instead of characters")
	}
	if !a.IsOversized("日本語!") {
		t.Error("IsOversized() = false for 4 characters over a limit of 3")
	}
}

func TestRestore(t *testing.T) {
	a := NewAssembler(Options{MaxLength: 5})
	p := a.Assemble([]adapter.OpenAIMessage{{
		Role:    "user",
		Content: adapter.PartsContent(adapter.TextPart("long enough"), adapter.ImagePart("data:a")),
	}})
	substituted := a.ApplyContextLimit(p)

	restored := substituted.Restore()

	if restored.Text != p.RootText {
		t.Errorf("Restore().Text = %q, want %q", restored.Text, p.RootText)
	}
	if restored.Context != nil {
		t.Error("Restore() kept the context attachment")
	}
	restored.Images[0] = "mutated"
	if substituted.Images[0] != "data:a" {
		t.Error("Restore() shares the image slice with its source")
	}
}
