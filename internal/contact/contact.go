package contact

import (
	"strings"

	"github.com/google/uuid"
)

// Contact is one recipient row, whatever source it came from.
type Contact struct {
	ID              string            `json:"id"`
	DisplayName     string            `json:"display_name"`
	RawPhone        string            `json:"raw_phone"`
	NormalizedPhone *string           `json:"normalized_phone,omitempty"`
	Email           *string           `json:"email,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"` // Remaining source columns, lower-cased keys
}

// New builds a contact with a fresh id.
func New(name, rawPhone, email string) Contact {
	c := Contact{
		ID:          uuid.NewString(),
		DisplayName: strings.TrimSpace(name),
		RawPhone:    strings.TrimSpace(rawPhone),
	}
	if e := strings.TrimSpace(email); e != "" {
		c.Email = &e
	}
	return c
}

// Field looks up a template field by case-insensitive name.
func (c Contact) Field(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "name", "display_name":
		return c.DisplayName, true
	case "phone":
		if c.NormalizedPhone != nil {
			return *c.NormalizedPhone, true
		}
		return c.RawPhone, true
	case "email":
		if c.Email != nil {
			return *c.Email, true
		}
		return "", true
	}
	v, ok := c.Fields[strings.ToLower(name)]
	return v, ok
}

// Group is a saved contact group on the platform.
type Group struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContactCount int    `json:"contact_count"`
}

// Result is the outcome of one ingestion call.
type Result struct {
	Source   string    `json:"source"`
	Contacts []Contact `json:"contacts"`
	Dropped  int       `json:"dropped"` // Rows without a phone value
	Empty    bool      `json:"empty"`   // Source produced no rows at all
}
