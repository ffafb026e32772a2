package sanitize

import "testing"

func TestLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "script tag", input: `Go Meetup <script>alert('xss')</script>`, expected: `Go Meetup`},
		{name: "inline handler", input: `<div onclick="alert(1)">Main Hall</div>`, expected: `Main Hall`},
		{name: "whitespace", input: "  Room\t 4 \n B ", expected: "Room 4 B"},
		{name: "entities survive as text", input: `Tom &amp; Jerry`, expected: `Tom & Jerry`},
		{name: "plain", input: `Just plain text`, expected: `Just plain text`},
		{name: "empty", input: ``, expected: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Line(tt.input); got != tt.expected {
				t.Errorf("Line(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDescription(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "keeps formatting", input: `<p>Bring a <b>laptop</b></p>`, expected: `<p>Bring a <b>laptop</b></p>`},
		{name: "drops script", input: `<p>Hi</p><script>alert(1)</script>`, expected: `<p>Hi</p>`},
		{name: "drops handlers", input: `<p onclick="x()">Hi</p>`, expected: `<p>Hi</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Description(tt.input); got != tt.expected {
				t.Errorf("Description(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	if Optional(nil, Line) != nil {
		t.Fatalf("expected nil")
	}
	in := " <b>x</b> "
	if got := Optional(&in, Line); got == nil || *got != "x" {
		t.Fatalf("unexpected %v", got)
	}
}
