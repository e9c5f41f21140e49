package sync

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strconv"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/hkdb/aerion-sync/internal/message"
)

// maxPartSize bounds how much of any single MIME part is read into memory.
const maxPartSize = 25 * 1024 * 1024

// parsedBody is the outcome of walking one message's MIME tree.
type parsedBody struct {
	BodyPlain   string
	BodyHTML    string
	Attachments []message.Attachment
	RawHeaders  map[string]string
}

// parseMessageBody parses a raw RFC 822 message and extracts plain/HTML
// bodies plus attachment metadata, in the order attachments appeared. A
// timeout guards against pathological nesting in a hostile or malformed
// message; on timeout a best-effort plain-text fallback is returned instead
// of hanging the whole sync pass.
func (e *Engine) parseMessageBody(raw []byte, timeout time.Duration) *parsedBody {
	done := make(chan *parsedBody, 1)

	go func() {
		done <- e.parseMessageBodyInternal(raw)
	}()

	select {
	case result := <-done:
		return result
	case <-time.After(timeout):
		e.log.Warn().Int("rawLen", len(raw)).Dur("timeout", timeout).Msg("body parsing timed out, using fallback extraction")
		return &parsedBody{BodyPlain: extractPlainTextFallback(raw)}
	}
}

func (e *Engine) parseMessageBodyInternal(raw []byte) *parsedBody {
	result := &parsedBody{}

	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		e.log.Debug().Err(err).Msg("failed to parse message, treating as plain text")
		result.BodyPlain = string(raw)
		return result
	}

	result.RawHeaders = collectHeaders(entity.Header)

	if mr := entity.MultipartReader(); mr != nil {
		e.parseMultipartBody(mr, result, 0)
	} else {
		e.parseSinglePartBody(entity, result)
	}
	return result
}

func collectHeaders(h gomessage.Header) map[string]string {
	out := make(map[string]string)
	fields := h.Fields()
	for fields.Next() {
		out[fields.Key()] = fields.Value()
	}
	return out
}

func (e *Engine) parseMultipartBody(mr gomessage.MultipartReader, result *parsedBody, depth int) {
	if depth > 8 {
		return
	}

	position := len(result.Attachments)
	for {
		part, err := mr.NextPart()
		if err != nil {
			if !errors.Is(err, io.EOF) && !strings.Contains(err.Error(), "EOF") {
				e.log.Debug().Err(err).Msg("error reading multipart")
			}
			break
		}

		contentType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))

		if disposition == "attachment" || (contentType != "" && !strings.HasPrefix(contentType, "text/") && !strings.HasPrefix(contentType, "multipart/")) {
			att := extractAttachmentMetadata(part, contentType, dispParams, position)
			result.Attachments = append(result.Attachments, att)
			position++
			continue
		}

		if strings.HasPrefix(contentType, "multipart/") {
			if nested := part.MultipartReader(); nested != nil {
				e.parseMultipartBody(nested, result, depth+1)
			}
			continue
		}

		partBody, err := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
		if err != nil && len(partBody) == 0 {
			continue
		}

		charset := params["charset"]
		if charset == "" && contentType == "text/html" {
			charset = extractCharsetFromHTML(partBody)
		}
		decoded := decodeCharset(partBody, charset)

		switch contentType {
		case "text/plain":
			if result.BodyPlain == "" {
				result.BodyPlain = decoded
			}
		case "text/html":
			if result.BodyHTML == "" {
				result.BodyHTML = decoded
			}
		}
	}
}

func (e *Engine) parseSinglePartBody(entity *gomessage.Entity, result *parsedBody) {
	contentType, params, _ := mime.ParseMediaType(entity.Header.Get("Content-Type"))

	body, err := io.ReadAll(io.LimitReader(entity.Body, maxPartSize))
	if err != nil && len(body) == 0 {
		return
	}

	charset := params["charset"]
	if charset == "" && contentType == "text/html" {
		charset = extractCharsetFromHTML(body)
	}
	decoded := decodeCharset(body, charset)

	if contentType == "text/html" {
		result.BodyHTML = decoded
	} else {
		result.BodyPlain = decoded
	}
}

func extractAttachmentMetadata(part *gomessage.Entity, contentType string, dispParams map[string]string, position int) message.Attachment {
	filename := dispParams["filename"]
	if filename == "" {
		_, ctParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		filename = ctParams["name"]
	}
	filename = decodeMIMEWord(filename)

	content, _ := io.ReadAll(io.LimitReader(part.Body, maxPartSize))

	return message.Attachment{
		PartNumber:  strconv.Itoa(position + 1),
		Filename:    filename,
		ContentType: contentType,
		Size:        len(content),
		Position:    position,
	}
}

// extractPlainTextFallback pulls whatever printable text it can find after
// the header/body separator, for use when full parsing times out.
func extractPlainTextFallback(raw []byte) string {
	rawStr := string(raw)
	sepLen := 4
	bodyStart := strings.Index(rawStr, "\r\n\r\n")
	if bodyStart == -1 {
		bodyStart = strings.Index(rawStr, "\n\n")
		sepLen = 2
	}
	if bodyStart == -1 {
		return ""
	}

	body := rawStr[bodyStart+sepLen:]
	var out strings.Builder
	for _, r := range body {
		if (r >= 32 && r < 127) || r == '\n' || r == '\r' || r == '\t' {
			out.WriteRune(r)
		}
	}

	text := strings.TrimSpace(out.String())
	const maxFallbackSize = 10 * 1024
	if len(text) > maxFallbackSize {
		text = text[:maxFallbackSize] + "... [truncated]"
	}
	return text
}
