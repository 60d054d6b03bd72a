package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

type GmailProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewGmailProvider(baseURL string) *GmailProvider {
	return &GmailProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *GmailProvider) Tag() Tag { return TagGmail }

type gmailEvent struct {
	ConnectionID string          `json:"connection_id"`
	Message      json.RawMessage `json:"message"`
}

type gmailMessage struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	InternalDate string    `json:"internalDate"` // epoch millis, as a string
	LabelIDs     []string  `json:"labelIds"`
	Payload      gmailPart `json:"payload"`
}

type gmailPart struct {
	MimeType string        `json:"mimeType"`
	Headers  []gmailHeader `json:"headers"`
	Body     gmailBody     `json:"body"`
	Parts    []gmailPart   `json:"parts"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailBody struct {
	Data string `json:"data"` // base64url
	Size int64  `json:"size"`

	AttachmentID string `json:"attachmentId"`
	Filename     string `json:"-"`
}

func (m *gmailMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// decodePart walks the MIME tree collecting the first text/plain and
// text/html bodies. HTML is kept separate from plain text; neither is ever
// synthesized from the other.
func decodePart(part gmailPart, plain, html *string) {
	switch part.MimeType {
	case "text/plain":
		if *plain == "" {
			*plain = decodeB64URL(part.Body.Data)
		}
	case "text/html":
		if *html == "" {
			*html = decodeB64URL(part.Body.Data)
		}
	}
	for _, sub := range part.Parts {
		decodePart(sub, plain, html)
	}
}

func decodeB64URL(data string) string {
	if data == "" {
		return ""
	}
	b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		// some producers pad; retry with standard url encoding
		if b2, err2 := base64.URLEncoding.DecodeString(data); err2 == nil {
			return string(b2)
		}
		return ""
	}
	return string(b)
}

func (p *GmailProvider) Normalize(payload []byte) (*NormalizedMessage, error) {
	var ev gmailEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, malformed("invalid json")
	}
	if len(ev.Message) == 0 {
		return nil, malformed("no message object")
	}

	var msg gmailMessage
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return nil, malformed("invalid message object")
	}
	if msg.ID == "" {
		return nil, malformed("missing message id")
	}

	from := msg.header("From")
	if from == "" {
		return nil, malformed("missing sender identity")
	}
	senderAddr := from
	senderName := ""
	if addr, err := mail.ParseAddress(from); err == nil {
		senderAddr = addr.Address
		senderName = addr.Name
	}

	millis, err := strconv.ParseInt(msg.InternalDate, 10, 64)
	if err != nil || millis <= 0 {
		return nil, malformed("missing timestamp")
	}

	var plain, html string
	decodePart(msg.Payload, &plain, &html)
	if plain == "" && html == "" {
		return nil, malformed("missing content")
	}

	dir := DirectionInbound
	for _, l := range msg.LabelIDs {
		if l == "SENT" {
			dir = DirectionOutbound
		}
	}

	var atts []Attachment
	collectGmailAttachments(msg.Payload, &atts)

	return &NormalizedMessage{
		ExternalID:  msg.ID,
		Direction:   dir,
		SenderID:    strings.ToLower(senderAddr),
		SenderName:  senderName,
		ChatID:      msg.ThreadID,
		ThreadID:    msg.ThreadID,
		Subject:     msg.header("Subject"),
		Body:        plain,
		HTMLBody:    html,
		Attachments: atts,
		SentAt:      time.UnixMilli(millis).UTC(),
		Metadata: Metadata{
			Gmail: &GmailMeta{
				ThreadID: msg.ThreadID,
				LabelIDs: msg.LabelIDs,
				Raw:      append(json.RawMessage(nil), ev.Message...),
			},
		},
	}, nil
}

func collectGmailAttachments(part gmailPart, out *[]Attachment) {
	if part.Body.AttachmentID != "" {
		*out = append(*out, Attachment{
			ID:       part.Body.AttachmentID,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	}
	for _, sub := range part.Parts {
		collectGmailAttachments(sub, out)
	}
}

type gmailSendReq struct {
	Raw      string `json:"raw"` // base64url RFC 2822 message
	ThreadID string `json:"threadId,omitempty"`
}

type gmailSendResp struct {
	ID string `json:"id"`
}

func (p *GmailProvider) Send(ctx context.Context, req SendRequest) (string, error) {
	var rfc bytes.Buffer
	fmt.Fprintf(&rfc, "To: %s\r\n", strings.Join(req.Recipients, ", "))
	if req.Subject != "" {
		fmt.Fprintf(&rfc, "Subject: %s\r\n", req.Subject)
	}
	rfc.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	rfc.WriteString(req.Body)

	body, err := json.Marshal(gmailSendReq{
		Raw:      base64.URLEncoding.EncodeToString(rfc.Bytes()),
		ThreadID: req.ChatID,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/users/%s/messages/send", p.BaseURL, req.AccountExternalID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("gmail send: status=%d body=%s", resp.StatusCode, string(b))
	}

	var out gmailSendResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gmail send: no message id in response")
	}
	return out.ID, nil
}
