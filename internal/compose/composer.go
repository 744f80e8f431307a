package compose

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/pkg/segmenter"
)

var (
	ErrNeedsNewSegment = errors.New("draft exceeds segment limit, commit a segment first")
	ErrSegmentLimit    = errors.New("maximum number of segments reached")
	ErrEmptyDraft      = errors.New("draft is empty")
	ErrNoSuchSegment   = errors.New("segment index out of range")
)

const (
	DefaultCharLimit   = 160
	DefaultMaxSegments = 10
)

// Template is a reusable message body stored on the platform.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
	Tag  string `json:"tag"`
}

// MessageSpec is the composed message: committed segments plus the draft being edited.
type MessageSpec struct {
	Segments    []string `json:"segments"`
	ActiveDraft string   `json:"active_draft"`
	TemplateID  *string  `json:"template_id,omitempty"`
}

// EncodingInfo describes how the final message travels over the carrier network.
type EncodingInfo struct {
	Characters   int    `json:"characters"`
	Encoding     string `json:"encoding"`
	CarrierParts int    `json:"carrier_parts"`
}

// Composer owns a MessageSpec and enforces the segment limits on every edit.
// It is not safe for concurrent use; the owning session serializes access.
type Composer struct {
	charLimit    int
	maxSegments  int
	spec         MessageSpec
	templateBody string
}

func NewComposer(charLimit, maxSegments int) *Composer {
	if charLimit <= 0 {
		charLimit = DefaultCharLimit
	}
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}
	return &Composer{charLimit: charLimit, maxSegments: maxSegments}
}

// SetDraft replaces the active draft. An over-long draft is refused, never truncated.
func (c *Composer) SetDraft(text string) error {
	if segmenter.Length(text) > c.charLimit {
		if len(c.spec.Segments)+1 < c.maxSegments {
			return ErrNeedsNewSegment
		}
		return ErrSegmentLimit
	}
	if text != "" && len(c.spec.Segments) >= c.maxSegments {
		return ErrSegmentLimit
	}

	if c.spec.TemplateID != nil && text != c.templateBody {
		c.spec.TemplateID = nil
		c.templateBody = ""
	}
	c.spec.ActiveDraft = text
	return nil
}

// CommitSegment moves the draft into the committed segments and starts an empty draft.
func (c *Composer) CommitSegment() error {
	if strings.TrimSpace(c.spec.ActiveDraft) == "" {
		return ErrEmptyDraft
	}
	if len(c.spec.Segments) >= c.maxSegments {
		return ErrSegmentLimit
	}
	c.spec.Segments = append(c.spec.Segments, c.spec.ActiveDraft)
	c.spec.ActiveDraft = ""
	c.templateBody = ""
	return nil
}

// RemoveSegment deletes a committed segment by position.
func (c *Composer) RemoveSegment(i int) error {
	if i < 0 || i >= len(c.spec.Segments) {
		return fmt.Errorf("%w: %d", ErrNoSuchSegment, i)
	}
	segs := make([]string, 0, len(c.spec.Segments)-1)
	segs = append(segs, c.spec.Segments[:i]...)
	c.spec.Segments = append(segs, c.spec.Segments[i+1:]...)
	c.spec.TemplateID = nil
	c.templateBody = ""
	return nil
}

// ApplyTemplate replaces the draft with the template body and remembers the template id, if any.
// Bodies over the character limit are chunked into committed segments ending in a draft.
func (c *Composer) ApplyTemplate(t Template) error {
	chunks := segmenter.Split(t.Body, c.charLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	if len(c.spec.Segments)+len(chunks) > c.maxSegments {
		return ErrSegmentLimit
	}

	segs := make([]string, 0, len(c.spec.Segments)+len(chunks)-1)
	segs = append(segs, c.spec.Segments...)
	segs = append(segs, chunks[:len(chunks)-1]...)

	c.spec.Segments = segs
	c.spec.ActiveDraft = chunks[len(chunks)-1]
	c.spec.TemplateID = nil
	if t.ID != "" {
		id := t.ID
		c.spec.TemplateID = &id
	}
	c.templateBody = c.spec.ActiveDraft
	return nil
}

// FinalMessage is the committed segments followed by the trimmed draft.
func (c *Composer) FinalMessage() string {
	return strings.Join(c.spec.Segments, "") + strings.TrimSpace(c.spec.ActiveDraft)
}

// SegmentCount counts committed segments plus a non-empty draft.
func (c *Composer) SegmentCount() int {
	n := len(c.spec.Segments)
	if strings.TrimSpace(c.spec.ActiveDraft) != "" {
		n++
	}
	return n
}

// Spec returns a copy of the current message.
func (c *Composer) Spec() MessageSpec {
	out := MessageSpec{
		Segments:    append([]string(nil), c.spec.Segments...),
		ActiveDraft: c.spec.ActiveDraft,
	}
	if c.spec.TemplateID != nil {
		id := *c.spec.TemplateID
		out.TemplateID = &id
	}
	return out
}

// Restore loads a previously saved message, enforcing the current limits.
func (c *Composer) Restore(spec MessageSpec) error {
	if len(spec.Segments) > c.maxSegments {
		return ErrSegmentLimit
	}
	for _, s := range spec.Segments {
		if segmenter.Length(s) > c.charLimit {
			return ErrNeedsNewSegment
		}
	}
	if segmenter.Length(spec.ActiveDraft) > c.charLimit {
		return ErrNeedsNewSegment
	}
	c.spec = MessageSpec{}
	c.templateBody = ""
	c.spec.Segments = append([]string(nil), spec.Segments...)
	c.spec.ActiveDraft = spec.ActiveDraft
	if spec.TemplateID != nil {
		id := *spec.TemplateID
		c.spec.TemplateID = &id
		c.templateBody = spec.ActiveDraft
	}
	return nil
}

// Encoding reports the carrier encoding and part count of the final message.
func (c *Composer) Encoding() EncodingInfo {
	msg := c.FinalMessage()
	segs, ucs2, _ := segmenter.NewDefaultSegmenter().GetSegments(msg)
	info := EncodingInfo{Characters: segmenter.Length(msg), Encoding: "GSM7", CarrierParts: len(segs)}
	if ucs2 {
		info.Encoding = "UCS2"
	}
	if msg == "" {
		info.CarrierParts = 0
	}
	return info
}

// Render fills {{placeholders}} in the final message from the contact.
func (c *Composer) Render(ct contact.Contact) string {
	return Render(c.FinalMessage(), ct)
}

// Render substitutes {{field}} placeholders with contact values, case-insensitively.
// Unknown placeholders are left in place so a broken template stays visible.
func Render(body string, ct contact.Contact) string {
	out, err := fasttemplate.ExecuteFuncStringWithErr(body, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		if v, ok := ct.Field(strings.TrimSpace(tag)); ok {
			return w.Write([]byte(v))
		}
		return w.Write([]byte("{{" + tag + "}}"))
	})
	if err != nil {
		// Unterminated placeholder
		return body
	}
	return out
}
