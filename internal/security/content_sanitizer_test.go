package security

import (
	"strings"
	"testing"
)

func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "strongタグが許可される",
			input:        "<strong>Conciliación</strong> automática",
			wantContains: []string{"<strong>Conciliación</strong>", "automática"},
		},
		{
			name:         "brタグが許可される",
			input:        "Paso 1<br>Paso 2",
			wantContains: []string{"<br", "Paso 1", "Paso 2"},
		},
		{
			name:         "リストが許可される",
			input:        "<ul><li>SAS</li><li>CF</li></ul>",
			wantContains: []string{"<ul>", "<li>SAS</li>", "</ul>"},
		},
		{
			name:         "aタグにtarget=_blankとnoreferrerが付与される",
			input:        `<a href="https://docs.google.com/d/1">doc</a>`,
			wantContains: []string{`href="https://docs.google.com/d/1"`, `target="_blank"`, "noreferrer", "doc</a>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

func TestSanitize_RemovesDangerousContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name        string
		input       string
		wantMissing []string
	}{
		{"script", `<script>alert(1)</script>texto`, []string{"<script", "alert(1)"}},
		{"iframe", `<iframe src="https://evil.example"></iframe>`, []string{"<iframe"}},
		{"style", `<style>body{}</style>`, []string{"<style"}},
		{"img", `<img src="https://example.com/a.png" onerror="x()">`, []string{"<img", "onerror"}},
		{"onclick", `<b onclick="steal()">x</b>`, []string{"onclick", "steal"}},
		{"javascript href", `<a href="javascript:alert(1)">x</a>`, []string{"javascript:"}},
		{"relative href", `<a href="/admin">x</a>`, []string{`href="/admin"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, bad := range tt.wantMissing {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) = %q, must not contain %q", tt.input, got, bad)
				}
			}
		})
	}
}

func TestSanitize_PlainTextAndEmpty(t *testing.T) {
	sanitizer := NewContentSanitizer()

	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
	if got := sanitizer.Sanitize("Automatización de conciliaciones"); got != "Automatización de conciliaciones" {
		t.Errorf("plain text changed: %q", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()
	input := `<p>Hola <a href="https://bold.co">Bold</a><script>x</script></p>`

	once := sanitizer.Sanitize(input)
	twice := sanitizer.Sanitize(once)
	if once != twice {
		t.Errorf("not idempotent:\n once=%q\ntwice=%q", once, twice)
	}
}
