package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

// Discord posts a single embed to a webhook. There is no retry.
type Discord struct {
	url    string
	client *http.Client
}

// NewDiscord creates a Discord notifier
func NewDiscord(url string) *Discord {
	return &Discord{url: url, client: cleanhttp.DefaultClient()}
}

func (d *Discord) Name() string {
	return "discord"
}

type discordField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Fields []discordField `json:"fields"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *Discord) Notify(ctx context.Context, msg Message) error {
	status := "Failed"
	if msg.Success {
		status = "Success"
	}
	text := msg.Text
	if text == "" {
		text = "No message"
	}

	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{{
		Title: "Docker backup result",
		Fields: []discordField{
			{Name: "Status", Value: status},
			{Name: "Message", Value: text},
		},
	}}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build discord request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("Error sending notification to discord: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Error sending notification to discord: status %d", resp.StatusCode)
	}
	return nil
}
