package batch

import (
	"github.com/google/uuid"

	"github.com/thrillee/aegisbulk/internal/contact"
)

// DefaultMaxSize is the contact cap per batch when none is configured.
const DefaultMaxSize = 100

// Batch is a bounded group of contacts queued together.
// StartIndex and EndIndex are a 1-based running count across the queue, for display only.
type Batch struct {
	ID             string            `json:"id"`
	SequenceNumber int               `json:"sequence_number"`
	Contacts       []contact.Contact `json:"contacts"`
	StartIndex     int               `json:"start_index"`
	EndIndex       int               `json:"end_index"`
}

// Size is the number of contacts in the batch.
func (b Batch) Size() int { return len(b.Contacts) }

// Append adds contacts to the queue and returns the new batch list.
// The last batch is filled up to maxSize before new batches are opened.
// Neither input slice is modified.
func Append(contacts []contact.Contact, existing []Batch, maxSize int) []Batch {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	out := make([]Batch, len(existing), len(existing)+len(contacts)/maxSize+1)
	copy(out, existing)

	nextSeq := 1
	running := 0
	for _, b := range out {
		if b.SequenceNumber >= nextSeq {
			nextSeq = b.SequenceNumber + 1
		}
		if b.EndIndex > running {
			running = b.EndIndex
		}
	}

	remaining := contacts
	if n := len(out); n > 0 && len(remaining) > 0 && out[n-1].Size() < maxSize {
		last := out[n-1]
		take := min(maxSize-last.Size(), len(remaining))

		merged := make([]contact.Contact, 0, last.Size()+take)
		merged = append(merged, last.Contacts...)
		merged = append(merged, remaining[:take]...)
		last.Contacts = merged
		last.EndIndex = last.StartIndex + len(merged) - 1
		running = last.EndIndex

		out[n-1] = last
		remaining = remaining[take:]
	}

	for len(remaining) > 0 {
		take := min(maxSize, len(remaining))
		chunk := make([]contact.Contact, take)
		copy(chunk, remaining[:take])

		out = append(out, Batch{
			ID:             uuid.NewString(),
			SequenceNumber: nextSeq,
			Contacts:       chunk,
			StartIndex:     running + 1,
			EndIndex:       running + take,
		})
		nextSeq++
		running += take
		remaining = remaining[take:]
	}
	return out
}

// Remove drops the batch with the given id. Other batches keep their numbers and indices.
func Remove(batches []Batch, id string) ([]Batch, bool) {
	out := make([]Batch, 0, len(batches))
	found := false
	for _, b := range batches {
		if b.ID == id {
			found = true
			continue
		}
		out = append(out, b)
	}
	return out, found
}

// Find returns the batch with the given id.
func Find(batches []Batch, id string) (Batch, bool) {
	for _, b := range batches {
		if b.ID == id {
			return b, true
		}
	}
	return Batch{}, false
}

// Total counts the contacts across all batches.
func Total(batches []Batch) int {
	n := 0
	for _, b := range batches {
		n += b.Size()
	}
	return n
}
