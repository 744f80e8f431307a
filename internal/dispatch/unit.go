package dispatch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/thrillee/aegisbulk/internal/batch"
	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/pkg/msisdn"
)

// Recipient is a contact with its validated E.164 number.
type Recipient struct {
	Contact contact.Contact `json:"contact"`
	MSISDN  string          `json:"msisdn"`
}

// Unit is the smallest thing the send loop iterates over.
// Group sends make one call per unit; personalized sends make one call per recipient.
type Unit struct {
	ID         string      `json:"id"`
	Ref        string      `json:"ref"` // Source batch id
	Label      string      `json:"label"`
	Recipients []Recipient `json:"recipients"`
}

// BuildResult is the send list plus what was left out of it.
type BuildResult struct {
	Units      []Unit             `json:"units"`
	Recipients int                `json:"recipients"`
	Skipped    int                `json:"skipped"`    // Unusable phone numbers
	Duplicates int                `json:"duplicates"` // Group mode: numbers already present earlier in the list
	Rejections []msisdn.Rejection `json:"-"`
}

// BuildUnits turns selected batches into one unit per batch.
// Phones are normalized here. In group mode they are deduplicated across the whole list,
// first occurrence wins; personalized rows each carry their own content and are all kept.
// Batches left with no recipients produce no unit.
func BuildUnits(batches []batch.Batch, n *msisdn.Normalizer, mode string) BuildResult {
	var res BuildResult
	seen := make(map[string]struct{})

	for _, b := range batches {
		u := Unit{
			ID:    uuid.NewString(),
			Ref:   b.ID,
			Label: fmt.Sprintf("Batch %d", b.SequenceNumber),
		}
		for _, c := range b.Contacts {
			e164, err := n.Normalize(c.RawPhone)
			if err != nil {
				res.Skipped++
				res.Rejections = append(res.Rejections, msisdn.Rejection{Raw: c.RawPhone, Err: err})
				continue
			}
			if mode != ModePersonalized {
				if _, dup := seen[e164]; dup {
					res.Duplicates++
					continue
				}
				seen[e164] = struct{}{}
			}

			c.NormalizedPhone = &e164
			u.Recipients = append(u.Recipients, Recipient{Contact: c, MSISDN: e164})
		}
		if len(u.Recipients) == 0 {
			continue
		}
		res.Recipients += len(u.Recipients)
		res.Units = append(res.Units, u)
	}
	return res
}

// MSISDNs lists the unit's numbers in order.
func (u Unit) MSISDNs() []string {
	out := make([]string, len(u.Recipients))
	for i, r := range u.Recipients {
		out[i] = r.MSISDN
	}
	return out
}

// CountRecipients sums recipients over units.
func CountRecipients(units []Unit) int {
	n := 0
	for _, u := range units {
		n += len(u.Recipients)
	}
	return n
}

// FailedUnits builds the retry list from a finished run: only Failed units,
// and for personalized runs only the rows that did not go out.
func FailedUnits(s Summary, units []Unit) []Unit {
	byID := make(map[string]Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	var out []Unit
	for _, item := range s.Items {
		if item.Status != StatusFailed {
			continue
		}
		u, ok := byID[item.ID]
		if !ok {
			continue
		}
		if s.Mode == ModePersonalized && len(item.FailedRecipients) > 0 {
			failed := make(map[string]struct{}, len(item.FailedRecipients))
			for _, id := range item.FailedRecipients {
				failed[id] = struct{}{}
			}
			var keep []Recipient
			for _, r := range u.Recipients {
				if _, ok := failed[r.Contact.ID]; ok {
					keep = append(keep, r)
				}
			}
			u.Recipients = keep
		}
		if len(u.Recipients) > 0 {
			out = append(out, u)
		}
	}
	return out
}
