package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// importanceColors maps importance to a Discord embed color.
var importanceColors = map[int]int{5: 0xD92D20, 4: 0xF79009, 3: 0xFDB022}

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
	now        func() time.Time
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		now:        time.Now,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	color, ok := importanceColors[n.Importance]
	if !ok {
		color = 0x667085
	}

	description := n.headline() + "\n\n" + n.Summary
	if lines := n.assetLines(); len(lines) > 0 {
		description += "\n\n" + strings.Join(lines, "\n")
	}

	embed := map[string]any{
		"title":       n.Title,
		"url":         n.URL,
		"description": description,
		"color":       color,
		"timestamp":   d.now().UTC().Format(time.RFC3339),
	}
	if len(n.Sources) > 0 {
		embed["footer"] = map[string]any{"text": strings.Join(n.Sources, " · ")}
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}
	return nil
}
