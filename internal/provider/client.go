// Package provider is the HTTP client for the messaging provider's cloud
// API: media resolution/download and template sends.
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

const maxMediaBytes = 32 << 20

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type mediaURLResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// MediaURL resolves a provider media id to a short-lived download URL.
func (c *Client) MediaURL(ctx context.Context, mediaID, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+mediaID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media lookup: unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var mr mediaURLResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return "", fmt.Errorf("media lookup: failed to decode json: %w body=%q", err, string(body))
	}
	if mr.URL == "" {
		return "", fmt.Errorf("media lookup: missing url in response body=%q", string(body))
	}
	return mr.URL, nil
}

// Download fetches the media bytes behind a resolved URL. It returns the
// bytes and the reported content type.
func (c *Client) Download(ctx context.Context, url, accessToken string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media download: unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("media download: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

type templateRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendTemplate sends a template message and returns the provider message
// id. Variables are passed as positional body parameters in key order as
// provided.
func (c *Client) SendTemplate(ctx context.Context, accessToken, phoneNumberID, to, name, language string, variables []string) (string, error) {
	if language == "" {
		language = "en"
	}

	tr := templateRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: templateBody{
			Name:     name,
			Language: templateLanguage{Code: language},
		},
	}
	if len(variables) > 0 {
		comp := templateComponent{Type: "body"}
		for _, v := range variables {
			comp.Parameters = append(comp.Parameters, templateParameter{Type: "text", Text: v})
		}
		tr.Template.Components = []templateComponent{comp}
	}

	reqBody, err := json.Marshal(tr)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+phoneNumberID+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("template send: unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("template send: failed to decode json: %w body=%q", err, string(body))
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", fmt.Errorf("template send: missing message id in response body=%q", string(body))
	}
	return sr.Messages[0].ID, nil
}
