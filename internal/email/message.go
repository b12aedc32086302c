// Package email defines the outgoing message model shared by all delivery backends.
package email

// Message represents one outgoing email with delivery options applied.
type Message struct {
	// From is the display sender address. When OnBehalfOf is set, From is the
	// alias being presented and OnBehalfOf is the authenticated account that
	// actually submits the message. An empty From means "use the host default".
	From       string
	OnBehalfOf string

	To      []string
	Subject string

	HTMLBody string

	Attachments []Attachment

	// Delivery flags. Backends that cannot honor a flag log a warning and
	// send anyway; a flag never blocks submission.
	HighImportance  bool
	DeliveryReceipt bool
	ReadReceipt     bool
}

// Attachment represents a file attached to an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// OnBehalf reports whether the message uses send-on-behalf semantics,
// i.e. a display address distinct from the submitting account.
func (m *Message) OnBehalf() bool {
	return m.OnBehalfOf != "" && m.From != "" && m.OnBehalfOf != m.From
}
