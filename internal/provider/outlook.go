package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OutlookProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewOutlookProvider(baseURL string) *OutlookProvider {
	return &OutlookProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *OutlookProvider) Tag() Tag { return TagOutlook }

type outlookEvent struct {
	ConnectionID string          `json:"connection_id"`
	Message      json.RawMessage `json:"message"`
}

type outlookAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

type outlookMessage struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	Subject          string         `json:"subject"`
	From             outlookAddress `json:"from"`
	Sender           outlookAddress `json:"sender"`
	ReceivedDateTime string         `json:"receivedDateTime"` // ISO-8601
	BodyPreview      string         `json:"bodyPreview"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	IsDraft     bool `json:"isDraft"`
	Attachments []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
	} `json:"attachments"`
}

func (p *OutlookProvider) Normalize(payload []byte) (*NormalizedMessage, error) {
	var ev outlookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, malformed("invalid json")
	}
	if len(ev.Message) == 0 {
		return nil, malformed("no message object")
	}

	var msg outlookMessage
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return nil, malformed("invalid message object")
	}
	if msg.ID == "" {
		return nil, malformed("missing message id")
	}
	if msg.IsDraft {
		return nil, malformed("draft message")
	}

	// From is authoritative; Sender is the delegate fallback.
	addr := msg.From.EmailAddress.Address
	name := msg.From.EmailAddress.Name
	if addr == "" {
		addr = msg.Sender.EmailAddress.Address
		name = msg.Sender.EmailAddress.Name
	}
	if addr == "" {
		return nil, malformed("missing sender identity")
	}

	sentAt, err := time.Parse(time.RFC3339, msg.ReceivedDateTime)
	if err != nil {
		return nil, malformed("missing timestamp")
	}

	var plain, html string
	switch strings.ToLower(msg.Body.ContentType) {
	case "html":
		html = msg.Body.Content
		plain = msg.BodyPreview
	default:
		plain = msg.Body.Content
	}
	if plain == "" && html == "" {
		return nil, malformed("missing content")
	}

	atts := make([]Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		atts = append(atts, Attachment{
			ID:       a.ID,
			Name:     a.Name,
			MimeType: a.ContentType,
			Size:     a.Size,
		})
	}

	return &NormalizedMessage{
		ExternalID:  msg.ID,
		Direction:   DirectionInbound,
		SenderID:    strings.ToLower(addr),
		SenderName:  name,
		ChatID:      msg.ConversationID,
		ThreadID:    msg.ConversationID,
		Subject:     msg.Subject,
		Body:        plain,
		HTMLBody:    html,
		Attachments: atts,
		SentAt:      sentAt.UTC(),
		Metadata: Metadata{
			Outlook: &OutlookMeta{
				ConversationID: msg.ConversationID,
				Raw:            append(json.RawMessage(nil), ev.Message...),
			},
		},
	}, nil
}

type outlookSendReq struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []outlookAddress `json:"toRecipients"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

func (p *OutlookProvider) Send(ctx context.Context, req SendRequest) (string, error) {
	var sr outlookSendReq
	sr.Message.Subject = req.Subject
	sr.Message.Body.ContentType = "text"
	sr.Message.Body.Content = req.Body
	for _, r := range req.Recipients {
		var a outlookAddress
		a.EmailAddress.Address = r
		sr.Message.ToRecipients = append(sr.Message.ToRecipients, a)
	}
	sr.SaveToSentItems = true

	body, err := json.Marshal(sr)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/users/%s/sendMail", p.BaseURL, req.AccountExternalID)
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
		return "", fmt.Errorf("outlook send: status=%d body=%s", resp.StatusCode, string(b))
	}

	// Graph sendMail returns 202 with no body; the assigned id comes back
	// through the sent-items webhook. Use the request id header when present.
	if id := resp.Header.Get("X-Message-Id"); id != "" {
		return id, nil
	}
	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.ID != "" {
		return out.ID, nil
	}
	return "", fmt.Errorf("outlook send: no message id in response")
}
