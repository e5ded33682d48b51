// Package evolution is a thin adapter for the external WhatsApp bridge API.
// It normalizes request/response shapes and nothing else: retry policy
// belongs to the dispatcher, persistence to the callers.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"imovelzap/pkg/phone"
)

// Client talks to one configured gateway instance.
type Client struct {
	http     *resty.Client
	instance string
}

// NewClient validates the gateway configuration and builds the client.
// Missing credentials are a configuration error surfaced immediately.
func NewClient(baseURL, apiKey, instance string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gateway apiKey cannot be empty")
	}
	if instance == "" {
		return nil, fmt.Errorf("gateway instance cannot be empty")
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetTimeout(15 * time.Second)

	log.Info().Str("baseURL", baseURL).Str("instance", instance).Msg("Gateway client configured")

	return &Client{http: httpClient, instance: instance}, nil
}

// SendText sends one text message. The destination is normalized to the
// gateway's digit-only international form. A transport failure returns a
// non-nil error; an HTTP error status returns a failed SendResult carrying
// the raw body. No retries happen here.
func (c *Client) SendText(ctx context.Context, destination, body string) (*SendResult, error) {
	number := phone.Digits(destination)
	if number == "" {
		return nil, fmt.Errorf("destination phone %q has no digits", destination)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(sendTextRequest{Number: number, Text: body}).
		Post(fmt.Sprintf("/message/sendText/%s", c.instance))
	if err != nil {
		return nil, fmt.Errorf("gateway sendText request failed: %w", err)
	}

	result := &SendResult{
		HTTPStatus:  resp.StatusCode(),
		RawResponse: string(resp.Body()),
	}

	if resp.IsError() {
		var errBody errorResponse
		if jsonErr := json.Unmarshal(resp.Body(), &errBody); jsonErr == nil && errBody.Message != "" {
			result.ErrorMessage = errBody.Message
		} else {
			result.ErrorMessage = resp.Status()
		}
		log.Warn().Int("status", resp.StatusCode()).Str("number", number).Str("body", result.RawResponse).Msg("Gateway rejected sendText")
		return result, nil
	}

	var ok sendTextResponse
	if jsonErr := json.Unmarshal(resp.Body(), &ok); jsonErr == nil {
		result.ProviderMessageID = ok.Key.ID
	}
	result.OK = true
	return result, nil
}

// FetchInstances returns the configured instances and their connection
// state. Used by the health probe, not by the send path.
func (c *Client) FetchInstances(ctx context.Context) ([]Instance, error) {
	var instances []Instance
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&instances).
		Get("/instance/fetchInstances")
	if err != nil {
		return nil, fmt.Errorf("gateway fetchInstances request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway fetchInstances error: status %s, body: %s", resp.Status(), resp.String())
	}
	return instances, nil
}

// FetchChats returns the gateway's full chat list for the instance.
func (c *Client) FetchChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&chats).
		Post(fmt.Sprintf("/chat/findChats/%s", c.instance))
	if err != nil {
		return nil, fmt.Errorf("gateway findChats request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway findChats error: status %s, body: %s", resp.Status(), resp.String())
	}
	return chats, nil
}

// FetchGroups returns the gateway's full group list in one call, so group
// metadata sync never issues per-conversation requests.
func (c *Client) FetchGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("getParticipants", "false").
		SetResult(&groups).
		Get(fmt.Sprintf("/group/fetchAllGroups/%s", c.instance))
	if err != nil {
		return nil, fmt.Errorf("gateway fetchAllGroups request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway fetchAllGroups error: status %s, body: %s", resp.Status(), resp.String())
	}
	return groups, nil
}
