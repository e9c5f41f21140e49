package sync

import (
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/hkdb/aerion-sync/internal/folder"
	imapPkg "github.com/hkdb/aerion-sync/internal/imap"
	"github.com/hkdb/aerion-sync/internal/message"
)

// flagsToStrings converts IMAP flags to the plain strings the message store
// persists, so a flag round-trips byte-for-byte through UpdateFlags.
func flagsToStrings(flags []imap.Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, string(f))
	}
	return out
}

// addressesFromEnvelope converts an envelope address list, preferring it
// over header-fallback parsing whenever the server populated it.
func addressesFromEnvelope(addrs []imap.Address) []message.Address {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]message.Address, 0, len(addrs))
	for _, a := range addrs {
		addr := a.Addr()
		if addr == "" && a.Name == "" {
			continue
		}
		out = append(out, message.Address{Name: a.Name, Email: addr})
	}
	return out
}

// addressesFromHeader parses a raw address header, used when the server
// omitted the envelope field or it came back empty. A token that net/mail
// can't parse is still kept, best-effort, as a bare email.
func addressesFromHeader(headers map[string]string, name string) []message.Address {
	raw := getHeader(headers, name)
	if raw == "" {
		return nil
	}
	parsed, err := mail.ParseAddressList(raw)
	if err == nil {
		out := make([]message.Address, 0, len(parsed))
		for _, p := range parsed {
			out = append(out, message.Address{Name: p.Name, Email: p.Address})
		}
		return out
	}

	var out []message.Address
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if a, err := mail.ParseAddress(tok); err == nil {
			out = append(out, message.Address{Name: a.Name, Email: a.Address})
			continue
		}
		out = append(out, message.Address{Email: tok})
	}
	return out
}

// getHeader looks up a header case-insensitively against the canonicalized
// keys collectHeaders produces.
func getHeader(headers map[string]string, name string) string {
	if headers == nil {
		return ""
	}
	if v, ok := headers[name]; ok {
		return v
	}
	canon := strings.ToUpper(name[:1]) + strings.ToLower(name[1:])
	if v, ok := headers[canon]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// buildEmail assembles a message.Email from a streamed FETCH response,
// preferring envelope-derived fields and falling back to the parsed body's
// raw headers wherever the envelope left something empty.
func buildEmail(folderID int64, uid uint32, flags []imap.Flag, envelope *imap.Envelope, internalDate time.Time, size int64, parsed *parsedBody) message.Email {
	e := message.Email{
		FolderID:    folderID,
		UID:         uid,
		Flags:       flagsToStrings(flags),
		BodyPlain:   parsed.BodyPlain,
		BodyHTML:    parsed.BodyHTML,
		RawHeaders:  parsed.RawHeaders,
		Attachments: parsed.Attachments,
		SizeBytes:   int(size),
	}

	if envelope != nil {
		e.Subject = envelope.Subject
		e.MessageID = strings.Trim(envelope.MessageID, "<>")
		if len(envelope.InReplyTo) > 0 {
			e.InReplyTo = strings.Trim(envelope.InReplyTo[0], "<>")
		}
		if !envelope.Date.IsZero() {
			e.DateSent = envelope.Date.UTC()
		}
		if froms := addressesFromEnvelope(envelope.From); len(froms) > 0 {
			e.From = froms[0]
		}
		e.To = addressesFromEnvelope(envelope.To)
		e.Cc = addressesFromEnvelope(envelope.Cc)
		e.Bcc = addressesFromEnvelope(envelope.Bcc)
		e.ReplyTo = addressesFromEnvelope(envelope.ReplyTo)
	}

	if e.Subject == "" {
		e.Subject = decodeMIMEWord(getHeader(parsed.RawHeaders, "Subject"))
	}
	if e.From.Email == "" {
		if froms := addressesFromHeader(parsed.RawHeaders, "From"); len(froms) > 0 {
			e.From = froms[0]
		}
	}
	if len(e.To) == 0 {
		e.To = addressesFromHeader(parsed.RawHeaders, "To")
	}
	if len(e.Cc) == 0 {
		e.Cc = addressesFromHeader(parsed.RawHeaders, "Cc")
	}
	if len(e.Bcc) == 0 {
		e.Bcc = addressesFromHeader(parsed.RawHeaders, "Bcc")
	}
	if len(e.ReplyTo) == 0 {
		e.ReplyTo = addressesFromHeader(parsed.RawHeaders, "Reply-To")
	}
	if e.MessageID == "" {
		e.MessageID = strings.Trim(getHeader(parsed.RawHeaders, "Message-Id"), "<>")
	}
	if e.DateSent.IsZero() {
		if d := getHeader(parsed.RawHeaders, "Date"); d != "" {
			if t, err := mail.ParseDate(d); err == nil {
				e.DateSent = t.UTC()
			}
		}
	}

	e.DateReceived = internalDate.UTC()
	if e.DateReceived.IsZero() {
		e.DateReceived = e.DateSent
	}
	if e.DateReceived.IsZero() {
		e.DateReceived = time.Now().UTC()
	}

	return e
}

// convertFolderType maps the adapter's richer special-use classification
// onto the store's folder type.
func convertFolderType(t imapPkg.FolderType) folder.Type {
	switch t {
	case imapPkg.FolderTypeInbox:
		return folder.TypeInbox
	case imapPkg.FolderTypeSent:
		return folder.TypeSent
	case imapPkg.FolderTypeDrafts:
		return folder.TypeDraft
	case imapPkg.FolderTypeTrash:
		return folder.TypeTrash
	default:
		return folder.TypeOther
	}
}
