package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-sync/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSyncFailureRate AlertType = "sync_failure_rate"
	AlertSyncStale       AlertType = "sync_stale"
	AlertDealFailures    AlertType = "deal_failures"
)

// minFinishedRuns is the sample size below which the failure rate is not
// judged.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSyncFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sync failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
				"last_error":   snap.LastError,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 {
		staleAfter := time.Duration(a.cfg.StaleAfterHours) * time.Hour
		switch {
		case snap.LastSuccessAt == nil && snap.RunsFailed > 0:
			alerts = append(alerts, Alert{
				Type:      AlertSyncStale,
				Severity:  "high",
				Message:   "No deal sync has ever completed",
				Details:   map[string]any{"last_error": snap.LastError},
				Timestamp: now,
			})
		case snap.LastSuccessAt != nil && now.Sub(*snap.LastSuccessAt) > staleAfter:
			age := now.Sub(*snap.LastSuccessAt).Round(time.Minute)
			alerts = append(alerts, Alert{
				Type:     AlertSyncStale,
				Severity: "medium",
				Message:  fmt.Sprintf("Last successful deal sync was %s ago (threshold %dh)", age, a.cfg.StaleAfterHours),
				Details: map[string]any{
					"last_success_at": snap.LastSuccessAt,
					"threshold_hours": a.cfg.StaleAfterHours,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.FailedDealsThreshold > 0 && snap.DealsFailed > a.cfg.FailedDealsThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDealFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d deals failed to upsert in last %dh (threshold %d)",
				snap.DealsFailed, snap.LookbackHours, a.cfg.FailedDealsThreshold,
			),
			Details: map[string]any{
				"deals_failed":  snap.DealsFailed,
				"deals_fetched": snap.DealsFetched,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// webhookPayload is the alert plus a text field, so Slack-style incoming
// webhooks render it without a custom formatter.
type webhookPayload struct {
	Alert
	Source string `json:"source"`
	Text   string `json:"text"`
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(webhookPayload{
		Alert:  alert,
		Source: "deal-sync",
		Text:   fmt.Sprintf("[%s] deal-sync: %s", alert.Severity, alert.Message),
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
