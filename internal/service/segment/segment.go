// Package segment splits text into playback-ready units and generates
// utterance identities for recognized speech.
package segment

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"ai-call-presence-service/internal/models"
)

const (
	terminators = ".!?"
	// Splitters used when segmenting a live token stream. Whitespace is also a splitter.
	splitters = ".,?!;:-\u2014()[]{}"
)

func isTerminator(r rune) bool {
	return strings.ContainsRune(terminators, r)
}

// IsSplitter reports whether r ends a unit in streaming mode.
func IsSplitter(r rune) bool {
	return strings.ContainsRune(splitters, r) || unicode.IsSpace(r)
}

func onlyTerminators(s string) bool {
	for _, r := range s {
		if !isTerminator(r) {
			return false
		}
	}
	return s != ""
}

// Split breaks a complete text into sentence-like units at '.', '!' and '?'.
// Each unit keeps its terminator and is trimmed. A fragment made only of
// terminators is merged into the preceding unit, so "Hi.!" yields one unit.
// Trailing text without a terminator becomes the final unit.
func Split(text string) []models.TextUnit {
	var (
		units []string
		b     strings.Builder
	)

	flush := func(final bool) {
		s := strings.TrimSpace(b.String())
		switch {
		case s == "":
			b.Reset()
		case onlyTerminators(s) && len(units) > 0:
			units[len(units)-1] += s
			b.Reset()
		case onlyTerminators(s) && !final:
			// Leading punctuation is kept and prefixed to the next unit.
		case onlyTerminators(s):
			b.Reset()
		default:
			units = append(units, s)
			b.Reset()
		}
	}

	for _, r := range text {
		b.WriteRune(r)
		if isTerminator(r) {
			flush(false)
		}
	}
	flush(true)

	out := make([]models.TextUnit, len(units))
	for i, u := range units {
		out[i] = models.TextUnit{Index: i, Text: u}
	}
	return out
}

// Stream segments a lazy sequence of text fragments, such as streamed model
// tokens. When a fragment arrives and the buffered text already ends with a
// splitter, the buffer is emitted and the fragment starts a new one. When the
// fragment itself begins with a splitter, that splitter closes the buffered
// unit and the rest of the fragment starts the next one. Units therefore only
// end on fragment boundaries and never inside a word. Empty fragments are
// ignored. When fragments is closed the remaining text is flushed as a final
// unit. Each unit carries a single trailing space.
//
// The returned channel is closed when fragments is exhausted or ctx is done.
func Stream(ctx context.Context, fragments <-chan string) <-chan models.TextUnit {
	out := make(chan models.TextUnit)

	go func() {
		defer close(out)

		var (
			buf   string
			index int
		)

		emit := func(s string) bool {
			text := strings.TrimSpace(s)
			if text == "" {
				return true
			}
			select {
			case out <- models.TextUnit{Index: index, Text: text + " "}:
				index++
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case frag, ok := <-fragments:
				if !ok {
					emit(buf)
					return
				}
				if frag == "" {
					continue
				}
				switch {
				case endsWithSplitter(buf):
					if !emit(buf) {
						return
					}
					buf = frag
				case startsWithSplitter(frag):
					_, size := utf8.DecodeRuneInString(frag)
					if !emit(buf + frag[:size]) {
						return
					}
					buf = frag[size:]
				default:
					buf += frag
				}
			}
		}
	}()

	return out
}

func startsWithSplitter(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r != utf8.RuneError && IsSplitter(r)
}

func endsWithSplitter(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && IsSplitter(r)
}

// Units turns a slice of units into a closed channel, for callers that segment
// in batch mode but feed a streaming consumer.
func Units(units []models.TextUnit) <-chan models.TextUnit {
	ch := make(chan models.TextUnit, len(units))
	for _, u := range units {
		ch <- u
	}
	close(ch)
	return ch
}

// Join concatenates unit texts in order.
func Join(units []models.TextUnit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = strings.TrimSpace(u.Text)
	}
	return strings.Join(parts, " ")
}
