// Package alert pushes high-importance analyses to chat and webhook endpoints.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elonfeng/marketradar/internal/store"
	"github.com/elonfeng/marketradar/pkg/oracle"
)

// Notification is the data sent to alert destinations.
type Notification struct {
	Title      string                 `json:"title"`
	Summary    string                 `json:"summary"`
	URL        string                 `json:"url"`
	TopicKey   string                 `json:"topic_key"`
	Importance int                    `json:"importance"`
	Confidence float64                `json:"confidence"`
	Tickers    []string               `json:"tickers"`
	Sources    []string               `json:"sources"`
	Assets     []oracle.AffectedAsset `json:"affected_assets"`
}

// FromAnalysis builds the notification for one stored analysis.
func FromAnalysis(a store.Analysis) *Notification {
	return &Notification{
		Title:      a.Title,
		Summary:    a.Summary,
		URL:        a.SourceURL,
		TopicKey:   a.TopicKey,
		Importance: a.Importance,
		Confidence: a.Confidence,
		Tickers:    a.Tickers,
		Sources:    a.Sources,
		Assets:     a.AffectedAssets,
	}
}

// headline is the one-line summary shared by the chat notifiers.
func (n *Notification) headline() string {
	parts := []string{fmt.Sprintf("Importance %d/5", n.Importance), fmt.Sprintf("confidence %.0f%%", n.Confidence*100)}
	if len(n.Tickers) > 0 {
		parts = append(parts, strings.Join(n.Tickers, ", "))
	}
	return strings.Join(parts, " | ")
}

// assetLines renders up to five asset predictions.
func (n *Notification) assetLines() []string {
	var lines []string
	for _, a := range n.Assets[:min(5, len(n.Assets))] {
		lines = append(lines, fmt.Sprintf("• %s %s (impact %d, %s)", a.Symbol, a.Direction, a.Impact, a.Horizon))
	}
	return lines
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. Every
// notifier is tried; their failures are joined.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
