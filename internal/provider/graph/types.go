// Package graph implements a Provider that sends mail via the Microsoft
// Graph API, plus the session plumbing shared with the Graph mailstore.
package graph

import (
	"encoding/base64"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                    string            `json:"subject"`
	Body                       messageBody       `json:"body"`
	ToRecipients               []recipient       `json:"toRecipients"`
	From                       *recipient        `json:"from,omitempty"`
	Sender                     *recipient        `json:"sender,omitempty"`
	Importance                 string            `json:"importance,omitempty"`
	IsDeliveryReceiptRequested bool              `json:"isDeliveryReceiptRequested,omitempty"`
	IsReadReceiptRequested     bool              `json:"isReadReceiptRequested,omitempty"`
	Attachments                []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Message into a Graph API sendMail
// request body. Identity mapping: From becomes the displayed "from" address;
// for on-behalf sends the authenticated account goes into "sender" so the
// host records the alias relationship.
func buildSendMailRequest(msg *email.Message) *sendMailRequest {
	m := sendMailMessage{
		Subject: msg.Subject,
		Body: messageBody{
			ContentType: "html",
			Content:     msg.HTMLBody,
		},
		IsDeliveryReceiptRequested: msg.DeliveryReceipt,
		IsReadReceiptRequested:     msg.ReadReceipt,
	}

	if msg.HighImportance {
		m.Importance = "high"
	}

	if msg.From != "" {
		m.From = &recipient{EmailAddress: emailAddress{Address: msg.From}}
	}
	if msg.OnBehalf() {
		m.Sender = &recipient{EmailAddress: emailAddress{Address: msg.OnBehalfOf}}
	}

	m.ToRecipients = make([]recipient, 0, len(msg.To))
	for _, addr := range msg.To {
		m.ToRecipients = append(m.ToRecipients, recipient{
			EmailAddress: emailAddress{Address: addr},
		})
	}

	m.Attachments = make([]graphAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		m.Attachments = append(m.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{Message: m, SaveToSentItems: true}
}
