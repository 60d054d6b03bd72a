package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AggregatorProvider talks to the multi-channel aggregator that fronts
// WhatsApp and Instagram. One instance per channel; both share the same
// wire format and send API.
type AggregatorProvider struct {
	BaseURL string
	APIKey  string
	Channel Tag
	Client  *http.Client
}

func NewAggregatorProvider(baseURL, apiKey string, channel Tag) *AggregatorProvider {
	return &AggregatorProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Channel: channel,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *AggregatorProvider) Tag() Tag { return p.Channel }

type aggregatorEvent struct {
	Event        string `json:"event"`
	ConnectionID string `json:"connection_id"`
	Chat         struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Channel string `json:"channel"`
	} `json:"chat"`
	Message json.RawMessage `json:"message"`
}

type aggregatorMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix seconds
	Direction string `json:"direction"`
	Attendee  struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"attendee"`
	From        string `json:"from"`
	Attachments []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		MimeType string `json:"mime_type"`
		Size     int64  `json:"size"`
		URL      string `json:"url"`
	} `json:"attachments"`
}

func (p *AggregatorProvider) Normalize(payload []byte) (*NormalizedMessage, error) {
	var ev aggregatorEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, malformed("invalid json")
	}
	if len(ev.Message) == 0 {
		return nil, malformed("no message object")
	}

	var msg aggregatorMessage
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return nil, malformed("invalid message object")
	}
	if msg.ID == "" {
		return nil, malformed("missing message id")
	}

	// Sender comes from the attendee substructure; the envelope-level
	// "from" is only a fallback.
	sender := msg.Attendee.Phone
	if sender == "" {
		sender = msg.Attendee.ID
	}
	if sender == "" {
		sender = msg.From
	}
	if sender == "" {
		return nil, malformed("missing sender identity")
	}

	if msg.Timestamp <= 0 {
		return nil, malformed("missing timestamp")
	}

	if msg.Text == "" && len(msg.Attachments) == 0 {
		return nil, malformed("missing content")
	}

	dir := DirectionInbound
	if msg.Direction == "outbound" {
		dir = DirectionOutbound
	}

	atts := make([]Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		atts = append(atts, Attachment{
			ID:       a.ID,
			Name:     a.Name,
			MimeType: a.MimeType,
			Size:     a.Size,
			URL:      a.URL,
		})
	}

	return &NormalizedMessage{
		ExternalID:  msg.ID,
		Direction:   dir,
		SenderID:    sender,
		SenderName:  msg.Attendee.Name,
		ChatID:      ev.Chat.ID,
		Body:        msg.Text,
		Attachments: atts,
		SentAt:      time.Unix(msg.Timestamp, 0).UTC(),
		Metadata: Metadata{
			Aggregator: &AggregatorMeta{
				Channel:    ev.Chat.Channel,
				ChatID:     ev.Chat.ID,
				AttendeeID: msg.Attendee.ID,
				Raw:        append(json.RawMessage(nil), ev.Message...),
			},
		},
	}, nil
}

type aggregatorSendReq struct {
	ConnectionID string   `json:"connection_id"`
	ChatID       string   `json:"chat_id,omitempty"`
	To           []string `json:"to,omitempty"`
	Text         string   `json:"text"`
}

type aggregatorSendResp struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (p *AggregatorProvider) Send(ctx context.Context, req SendRequest) (string, error) {
	body, err := json.Marshal(aggregatorSendReq{
		ConnectionID: req.AccountExternalID,
		ChatID:       req.ChatID,
		To:           req.Recipients,
		Text:         req.Body,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", p.BaseURL, p.Channel)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("aggregator send: status=%d body=%s", resp.StatusCode, string(b))
	}

	var out aggregatorSendResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("aggregator send: %s", out.Error)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("aggregator send: no message id in response")
	}
	return out.MessageID, nil
}
