package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Assemble joins recognized speech segments onto the base text snapshot
// taken when recording started. The base text is preserved verbatim; a
// single separator space is inserted when the base is non-empty and does
// not already end in a space-class rune; segments are joined with single
// spaces in arrival order. With no segments the base comes back unchanged.
func Assemble(base string, segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return base
	}
	joined := strings.Join(parts, " ")
	if base == "" {
		return joined
	}
	if r, _ := utf8.DecodeLastRuneInString(base); unicode.IsSpace(r) {
		return base + joined
	}
	return base + " " + joined
}

// Builder accumulates one recording session's segments over a base text
// snapshot. Not safe for concurrent use; the capture loop owns it.
type Builder struct {
	base      string
	finals    []string
	interim   string
	recording bool
}

// SetBase records a manual edit made while not recording, so the next
// recording session appends after the latest edit. Ignored mid-recording;
// the capture engine owns the buffer then.
func (b *Builder) SetBase(text string) {
	if b.recording {
		return
	}
	b.base = text
}

// Base returns the current base text snapshot.
func (b *Builder) Base() string {
	return b.base
}

// Begin starts a recording session over the current base text.
func (b *Builder) Begin() {
	b.finals = b.finals[:0]
	b.interim = ""
	b.recording = true
}

// Recording reports whether a capture session is in progress.
func (b *Builder) Recording() bool {
	return b.recording
}

// AddFinal appends a finalized recognition segment. Segments arriving
// outside a recording session are stale and dropped.
func (b *Builder) AddFinal(text string) {
	if !b.recording || text == "" {
		return
	}
	b.finals = append(b.finals, text)
	b.interim = ""
}

// SetInterim replaces the in-progress (not yet finalized) segment.
func (b *Builder) SetInterim(text string) {
	if !b.recording {
		return
	}
	b.interim = text
}

// Text renders the transcript as it stands: base, finalized segments, then
// the current interim segment.
func (b *Builder) Text() string {
	segments := b.finals
	if b.interim != "" {
		segments = append(append([]string(nil), b.finals...), b.interim)
	}
	return Assemble(b.base, segments)
}

// End closes the recording session. The rendered text, including any
// interim segment still on screen, is collapsed into the base snapshot so a
// later session appends after everything heard so far.
func (b *Builder) End() string {
	b.base = b.Text()
	b.interim = ""
	b.finals = b.finals[:0]
	b.recording = false
	return b.base
}
