package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisbulk/internal/batch"
	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/pkg/msisdn"
)

func contactsFor(raws ...string) []contact.Contact {
	out := make([]contact.Contact, len(raws))
	for i, r := range raws {
		out[i] = contact.New("", r, "")
	}
	return out
}

func TestBuildUnits_NormalizesAndDedupes(t *testing.T) {
	n, err := msisdn.New("UG")
	require.NoError(t, err)

	batches := batch.Append(contactsFor("0701234567", "abc", "+256701234567", "0772000111"), nil, 2)
	batches = batch.Append(contactsFor("701234567", "+254712345678", "256772000111"), batches, 2)
	batches = batch.Append(contactsFor("0752333444"), batches, 2)
	require.Len(t, batches, 4)

	res := BuildUnits(batches, n, ModeGroup)

	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 3, res.Duplicates)
	assert.Equal(t, 3, res.Recipients)
	require.Len(t, res.Units, 3, "the batch holding only duplicates and rejects yields no unit")

	assert.Equal(t, []string{"+256701234567"}, res.Units[0].MSISDNs())
	assert.Equal(t, []string{"+256772000111"}, res.Units[1].MSISDNs())
	assert.Equal(t, []string{"+256752333444"}, res.Units[2].MSISDNs())
	assert.Equal(t, batches[0].ID, res.Units[0].Ref)
	assert.Equal(t, "Batch 4", res.Units[2].Label)

	r := res.Units[0].Recipients[0]
	require.NotNil(t, r.Contact.NormalizedPhone)
	assert.Equal(t, "+256701234567", *r.Contact.NormalizedPhone)
	assert.Nil(t, batches[0].Contacts[0].NormalizedPhone, "source batches are not modified")
}

func TestBuildUnits_PersonalizedKeepsRepeatedNumbers(t *testing.T) {
	n, err := msisdn.New("UG")
	require.NoError(t, err)

	rows := contactsFor("0701234567", "+256701234567", "nope")
	rows[0].Fields = map[string]string{"message": "invoice #1"}
	rows[1].Fields = map[string]string{"message": "invoice #2"}
	batches := batch.Append(rows, nil, 10)

	res := BuildUnits(batches, n, ModePersonalized)
	assert.Equal(t, 2, res.Recipients)
	assert.Zero(t, res.Duplicates)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "invoice #1", res.Units[0].Recipients[0].Contact.Fields["message"])
	assert.Equal(t, "invoice #2", res.Units[0].Recipients[1].Contact.Fields["message"])

	grouped := BuildUnits(batches, n, ModeGroup)
	assert.Equal(t, 1, grouped.Recipients)
	assert.Equal(t, 1, grouped.Duplicates)
}

func TestFailedUnits_GroupModeKeepsWholeUnit(t *testing.T) {
	units := []Unit{makeUnit("a", "+256701000001", "+256701000002"), makeUnit("b", "+256701000003"), makeUnit("c", "+256701000004")}
	s := Summary{
		Mode: ModeGroup,
		Items: []DispatchItem{
			{ID: "a", Status: StatusFailed},
			{ID: "b", Status: StatusSuccess},
			{ID: "c", Status: StatusPending},
		},
	}

	retry := FailedUnits(s, units)
	require.Len(t, retry, 1)
	assert.Equal(t, "a", retry[0].ID)
	assert.Len(t, retry[0].Recipients, 2)
}
