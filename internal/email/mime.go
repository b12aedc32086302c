package email

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
)

// MIMEOptions controls header-level details of the generated message.
type MIMEOptions struct {
	// FallbackFrom is used when the message has no explicit From address.
	FallbackFrom string

	// ReturnReceiptHeader adds the non-standard Return-Receipt-To header.
	// This is the fallback delivery-receipt channel for transports that
	// cannot request an envelope-level DSN.
	ReturnReceiptHeader bool
}

// BuildMIME renders the message as an RFC 5322 wire message. Identity
// semantics: From carries the display address; for on-behalf sends the
// authenticated account is recorded in the Sender header. Importance and
// read-receipt flags become their conventional headers.
func BuildMIME(msg *Message, opts MIMEOptions) ([]byte, error) {
	from := msg.From
	if from == "" {
		from = opts.FallbackFrom
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	if msg.OnBehalf() {
		h.SetAddressList("Sender", []*mail.Address{{Address: msg.OnBehalfOf}})
	}

	tos := make([]*mail.Address, 0, len(msg.To))
	for _, to := range msg.To {
		tos = append(tos, &mail.Address{Address: to})
	}
	h.SetAddressList("To", tos)

	if msg.HighImportance {
		h.Set("Importance", "High")
		h.Set("X-Priority", "1")
	}
	if msg.ReadReceipt {
		h.Set("Disposition-Notification-To", from)
	}
	if msg.DeliveryReceipt && opts.ReturnReceiptHeader {
		h.Set("Return-Receipt-To", from)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	bw, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := bw.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := bw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close body part: %w", err)
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		if att.ContentType != "" {
			ah.SetContentType(att.ContentType, nil)
		}
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}

	return buf.Bytes(), nil
}
