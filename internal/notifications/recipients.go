package notifications

import (
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// Recipient is one delivery target. Exactly one of person and plain
// email backs it; the sent-notification record mirrors that.
type Recipient interface {
	// Key identifies the recipient for grouping and de-duplication.
	Key() string
	EmailAddress() string
	DisplayName() string
	// SentFields returns the person id / email pair for the
	// SentNotification row.
	SentFields() (personID *string, email *string)
}

// PersonRecipient delivers to a person known to the platform.
type PersonRecipient struct {
	Person store.Person
}

func (r PersonRecipient) Key() string          { return "person:" + r.Person.ID }
func (r PersonRecipient) EmailAddress() string { return r.Person.Email }
func (r PersonRecipient) DisplayName() string  { return r.Person.FullName() }
func (r PersonRecipient) SentFields() (*string, *string) {
	id := r.Person.ID
	return &id, nil
}

// EmailRecipient delivers to a bare address (custom template emails,
// --force-to overrides).
type EmailRecipient struct {
	Email string
}

func (r EmailRecipient) Key() string          { return "email:" + r.Email }
func (r EmailRecipient) EmailAddress() string { return r.Email }
func (r EmailRecipient) DisplayName() string  { return r.Email }
func (r EmailRecipient) SentFields() (*string, *string) {
	email := r.Email
	return nil, &email
}
