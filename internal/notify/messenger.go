package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reminder-dispatcher/internal/model"
)

type MessengerOptions struct {
	BaseURL       string
	APIVersion    string
	PageID        string
	Token         string
	MessagingType string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

const (
	DefaultGraphURL     = "https://graph.facebook.com"
	DefaultGraphVersion = "v11.0"
)

// Messenger sends text messages through the Graph API Send endpoint of a page.
type Messenger struct {
	endpoint      string
	token         string
	messagingType string
	client        *http.Client
}

func NewMessenger(opts MessengerOptions) (*Messenger, error) {
	pageID := strings.TrimSpace(opts.PageID)
	if pageID == "" {
		return nil, errors.New("messenger page id is required")
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("messenger token is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	version := strings.Trim(strings.TrimSpace(opts.APIVersion), "/")
	if version == "" {
		version = DefaultGraphVersion
	}
	mt := strings.TrimSpace(opts.MessagingType)
	if mt == "" {
		mt = "RESPONSE"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Messenger{
		endpoint:      baseURL + "/" + version + "/" + url.PathEscape(pageID) + "/messages",
		token:         token,
		messagingType: mt,
		client:        client,
	}, nil
}

type messengerRequest struct {
	Recipient     messengerRecipient `json:"recipient"`
	MessagingType string             `json:"messaging_type"`
	Message       messengerMessage   `json:"message"`
}

type messengerRecipient struct {
	ID string `json:"id"`
}

type messengerMessage struct {
	Text string `json:"text"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (m *Messenger) Send(ctx context.Context, identity, content string) model.Outcome {
	body, err := json.Marshal(messengerRequest{
		Recipient:     messengerRecipient{ID: identity},
		MessagingType: m.messagingType,
		Message:       messengerMessage{Text: content},
	})
	if err != nil {
		return model.Failure("encode request: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.Failure("create request: " + err.Error())
	}
	q := req.URL.Query()
	q.Set("access_token", m.token)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		// url.Error carries the full URL, token included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return model.Failure("network error: " + err.Error())
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return model.Success()
	}
	return model.Outcome{Status: resp.StatusCode, Reason: graphReason(raw)}
}

func graphReason(raw []byte) string {
	var ge graphError
	if err := json.Unmarshal(raw, &ge); err == nil && ge.Error.Message != "" {
		return fmt.Sprintf("graph error %d (%s): %s", ge.Error.Code, ge.Error.Type, ge.Error.Message)
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "empty response body"
	}
	return truncate(s, 300)
}
