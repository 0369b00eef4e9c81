package transcript

import (
	"strings"
	"testing"
)

func TestAssemble_PrefixAndOrder(t *testing.T) {
	cases := []struct {
		name     string
		base     string
		segments []string
	}{
		{"empty base", "", []string{"こんにちは", "元気ですか"}},
		{"base without trailing space", "今日は", []string{"いい天気ですね"}},
		{"base with trailing space", "今日は ", []string{"いい", "天気"}},
		{"ideographic trailing space", "今日は　", []string{"いい天気"}},
		{"many segments", "base", []string{"a", "b", "c", "d", "e"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Assemble(c.base, c.segments)
			if !strings.HasPrefix(got, c.base) {
				t.Fatalf("result %q does not start with base %q", got, c.base)
			}
			rest := got[len(c.base):]
			for _, seg := range c.segments {
				idx := strings.Index(rest, seg)
				if idx < 0 {
					t.Fatalf("segment %q missing or out of order in %q", seg, got)
				}
				rest = rest[idx+len(seg):]
			}
		})
	}
}

func TestAssemble_Separators(t *testing.T) {
	cases := []struct {
		base     string
		segments []string
		want     string
	}{
		{"", nil, ""},
		{"hello", nil, "hello"},
		{"", []string{"one", "two"}, "one two"},
		{"hello", []string{"world"}, "hello world"},
		{"hello ", []string{"world"}, "hello world"},
		{"hello", []string{"", "world", ""}, "hello world"},
	}
	for _, c := range cases {
		if got := Assemble(c.base, c.segments); got != c.want {
			t.Fatalf("Assemble(%q, %v) = %q, want %q", c.base, c.segments, got, c.want)
		}
	}
}

func TestBuilder_RecordingFlow(t *testing.T) {
	var b Builder
	b.SetBase("おはよう")
	b.Begin()
	if !b.Recording() {
		t.Fatalf("expected recording state after Begin")
	}

	b.SetInterim("ござ")
	if got := b.Text(); got != "おはよう ござ" {
		t.Fatalf("interim render: got %q", got)
	}

	b.AddFinal("ございます")
	if got := b.Text(); got != "おはよう ございます" {
		t.Fatalf("final replaces interim: got %q", got)
	}

	b.AddFinal("今日も")
	b.SetInterim("いい天気")
	if got := b.Text(); got != "おはよう ございます 今日も いい天気" {
		t.Fatalf("mixed render: got %q", got)
	}

	final := b.End()
	if final != "おはよう ございます 今日も いい天気" {
		t.Fatalf("End collapsed to %q", final)
	}
	if b.Recording() {
		t.Fatalf("expected idle state after End")
	}
}

func TestBuilder_ManualEditBetweenSessions(t *testing.T) {
	var b Builder
	b.Begin()
	b.AddFinal("first")
	b.End()

	// Keyboard edit while idle replaces the snapshot.
	b.SetBase("first edited")
	b.Begin()
	b.AddFinal("second")
	if got := b.End(); got != "first edited second" {
		t.Fatalf("expected append after manual edit, got %q", got)
	}
}

func TestBuilder_EditDuringRecordingIgnored(t *testing.T) {
	var b Builder
	b.SetBase("base")
	b.Begin()
	b.SetBase("hijacked")
	b.AddFinal("seg")
	if got := b.Text(); got != "base seg" {
		t.Fatalf("base must not move mid-recording, got %q", got)
	}
}

func TestBuilder_StaleSegmentsDropped(t *testing.T) {
	var b Builder
	b.AddFinal("ghost")
	b.SetInterim("ghost")
	if got := b.Text(); got != "" {
		t.Fatalf("segments outside a session must be dropped, got %q", got)
	}
}

func TestBuilder_ZeroSegments(t *testing.T) {
	var b Builder
	b.SetBase("untouched")
	b.Begin()
	if got := b.End(); got != "untouched" {
		t.Fatalf("zero segments must leave base unchanged, got %q", got)
	}
}

func TestClassify_KnownCodes(t *testing.T) {
	cases := []struct {
		code string
		want ErrorKind
	}{
		{"not-allowed", KindPermissionDenied},
		{"permission-denied", KindPermissionDenied},
		{"audio-capture", KindNoMicrophone},
		{"no-speech", KindNoSpeech},
		{"network", KindNetwork},
		{"service-not-allowed", KindServiceUnavailable},
		{"aborted", KindAborted},
		{"bad-grammar", KindOther},
		{"", KindOther},
	}
	for _, c := range cases {
		if got := Classify(c.code); got != c.want {
			t.Fatalf("Classify(%q) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestDescribe_SilenceSuppressed(t *testing.T) {
	for _, k := range []ErrorKind{KindNoSpeech, KindAborted} {
		if !Suppressed(k) {
			t.Fatalf("%q must be suppressed", k)
		}
		if msg := Describe(k); msg != "" {
			t.Fatalf("suppressed kind %q must have no message, got %q", k, msg)
		}
	}
	kinds := []ErrorKind{KindPermissionDenied, KindNoMicrophone, KindNetwork, KindServiceUnavailable, KindOther}
	seen := map[string]bool{}
	for _, k := range kinds {
		if Suppressed(k) {
			t.Fatalf("%q must not be suppressed", k)
		}
		msg := Describe(k)
		if msg == "" {
			t.Fatalf("kind %q needs a user-facing message", k)
		}
		if seen[msg] {
			t.Fatalf("kinds must map to distinct messages; %q repeated", msg)
		}
		seen[msg] = true
	}
}
