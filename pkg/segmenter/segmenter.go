package segmenter

import (
	"log/slog"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	// Max lengths per carrier segment
	maxGSM7Single    = 160
	maxGSM7Multipart = 153 // 160 - 7 septets for UDH
	maxUCS2Single    = 70
	maxUCS2Multipart = 67 // 70 - 3 code units for UDH
)

// GSM 03.38 default alphabet. Extension characters cost two septets.
const (
	gsm7Basic     = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	gsm7Extension = "^{}\\[~]|€\f"
)

// Segmenter defines the interface for splitting messages into carrier parts.
type Segmenter interface {
	// GetSegments splits a message, returning segments and indicating if UCS2 encoding is needed.
	GetSegments(message string) (segments []string, requiresUCS2 bool, err error)
}

// DefaultSegmenter splits on GSM-7 septet or UCS-2 code unit boundaries.
type DefaultSegmenter struct{}

// NewDefaultSegmenter creates a basic segmenter.
func NewDefaultSegmenter() *DefaultSegmenter {
	return &DefaultSegmenter{}
}

// RequiresUCS2 reports whether s contains a character outside the GSM-7 alphabet.
func RequiresUCS2(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(gsm7Basic, r) && !strings.ContainsRune(gsm7Extension, r) {
			return true
		}
	}
	return false
}

func isHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u < 0xDC00
}

func gsm7Septets(r rune) int {
	if strings.ContainsRune(gsm7Extension, r) {
		return 2
	}
	return 1
}

// GetSegments implements carrier segmentation. An empty message is one empty segment.
func (s *DefaultSegmenter) GetSegments(message string) ([]string, bool, error) {
	if message == "" {
		return []string{""}, false, nil
	}

	if RequiresUCS2(message) {
		units := utf16.Encode([]rune(message))
		maxLength := maxUCS2Single
		if len(units) > maxUCS2Single {
			maxLength = maxUCS2Multipart
		}

		var segments []string
		for pos := 0; pos < len(units); {
			end := min(pos+maxLength, len(units))
			// Never split a surrogate pair across segments
			if end < len(units) && isHighSurrogate(units[end-1]) && end-1 > pos {
				end--
			}
			segments = append(segments, string(utf16.Decode(units[pos:end])))
			pos = end
		}
		slog.Debug("Segmented message using UCS2", slog.Int("segments", len(segments)), slog.Int("code_units", len(units)))
		return segments, true, nil
	}

	total := 0
	for _, r := range message {
		total += gsm7Septets(r)
	}
	maxLength := maxGSM7Single
	if total > maxGSM7Single {
		maxLength = maxGSM7Multipart
	}

	var (
		segments []string
		current  strings.Builder
		used     int
	)
	for _, r := range message {
		cost := gsm7Septets(r)
		if used+cost > maxLength {
			segments = append(segments, current.String())
			current.Reset()
			used = 0
		}
		current.WriteRune(r)
		used += cost
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	slog.Debug("Segmented message using GSM7", slog.Int("segments", len(segments)), slog.Int("septets", total))
	return segments, false, nil
}

// Length returns the character count the composer limits on.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}

// Split cuts s into chunks of at most limit characters, never inside a rune.
// A non-positive limit returns s unsplit.
func Split(s string, limit int) []string {
	if s == "" {
		return nil
	}
	if limit <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for pos := 0; pos < len(runes); pos += limit {
		chunks = append(chunks, string(runes[pos:min(pos+limit, len(runes))]))
	}
	return chunks
}
