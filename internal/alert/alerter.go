// Package alert sends Slack notifications for pull-run events. Alerts are
// best-effort: a failed notification is logged and swallowed so it can never
// take down the run it is reporting on.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MarketOutcome is one market's result line in the run summary.
type MarketOutcome struct {
	Code     string
	Failed   bool
	Keywords int
	Ranks    int
	Err      string
}

// Alerter posts block-kit messages to a Slack incoming webhook. A zero
// webhook URL turns every call into a no-op.
type Alerter struct {
	webhookURL string
	client     *http.Client
	isCI       bool
	printer    *message.Printer
	now        func() time.Time
}

// New creates an Alerter. CI detection follows the GitHub Actions convention
// so failures also surface as workflow annotations.
func New(webhookURL string) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		isCI:       os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true",
		printer:    message.NewPrinter(language.English),
		now:        time.Now,
	}
}

// LoginFailure reports a portal login failure, which aborts the whole run.
func (a *Alerter) LoginFailure(ctx context.Context, cause error) {
	zap.L().Error("portal login failed", zap.Error(cause))
	a.annotate("error", fmt.Sprintf("Portal login failed: %v", cause))

	a.send(ctx, payload("#FF0000", []any{
		header("Rankings Portal Login Failed"),
		fieldSection(
			"*Error:*\n"+cause.Error(),
			"*Impact:*\nAll markets skipped",
		),
		a.timestampContext(),
	}))
}

// MarketFailure reports a single failed market pull.
func (a *Alerter) MarketFailure(ctx context.Context, code string, cause error) {
	zap.L().Error("market pull failed", zap.String("market", code), zap.Error(cause))
	a.annotate("warning", fmt.Sprintf("Rankings %s failed: %v", code, cause))

	a.send(ctx, payload("#FFA500", []any{
		header(fmt.Sprintf("Rankings %s Import Failed", code)),
		fieldSection(
			"*Market:*\n"+code,
			"*Error:*\n"+cause.Error(),
		),
		a.timestampContext(),
	}))
}

// Summary logs the run totals and, only when at least one market failed,
// posts a per-market breakdown to Slack. All-green runs stay quiet.
func (a *Alerter) Summary(ctx context.Context, outcomes []MarketOutcome, totalKeywords, totalRanks int, duration time.Duration) {
	completed, failed := 0, 0
	for _, o := range outcomes {
		if o.Failed {
			failed++
		} else {
			completed++
		}
	}

	zap.L().Info("import summary",
		zap.Int("markets_completed", completed),
		zap.Int("markets_total", len(outcomes)),
		zap.String("keywords", a.printer.Sprintf("%d", totalKeywords)),
		zap.String("ranks", a.printer.Sprintf("%d", totalRanks)),
		zap.Duration("duration", duration),
	)

	if failed == 0 && completed > 0 {
		zap.L().Info("all markets succeeded, skipping summary alert")
		return
	}

	lines := ""
	for _, o := range outcomes {
		emoji := ":white_check_mark:"
		if o.Failed {
			emoji = ":x:"
		}
		line := fmt.Sprintf("%s %s", emoji, o.Code)
		if o.Keywords > 0 {
			line += a.printer.Sprintf(" (%d kw, %d ranks)", o.Keywords, o.Ranks)
		}
		if o.Err != "" {
			line += " - " + o.Err
		}
		if lines != "" {
			lines += "\n"
		}
		lines += line
	}

	a.send(ctx, payload("#FFA500", []any{
		header(fmt.Sprintf("Rankings Import: %d Failed", failed)),
		fieldSection(
			fmt.Sprintf("*Markets:*\n%d/%d success", completed, len(outcomes)),
			a.printer.Sprintf("*Keywords:*\n%d", totalKeywords),
			a.printer.Sprintf("*Ranks:*\n%d", totalRanks),
			fmt.Sprintf("*Duration:*\n%.1fs", duration.Seconds()),
		),
		map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": lines},
		},
		a.timestampContext(),
	}))
}

func (a *Alerter) send(ctx context.Context, body map[string]any) {
	if a.webhookURL == "" {
		zap.L().Debug("slack webhook not configured, skipping alert")
		return
	}

	data, err := json.Marshal(body)
	if err != nil {
		zap.L().Warn("marshal slack payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(data))
	if err != nil {
		zap.L().Warn("create slack request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		zap.L().Warn("slack notification failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("slack notification rejected", zap.Int("status", resp.StatusCode))
	}
}

// annotate emits a GitHub Actions workflow annotation when running in CI.
func (a *Alerter) annotate(level, msg string) {
	if a.isCI {
		fmt.Printf("::%s::%s\n", level, msg)
	}
}

func (a *Alerter) timestampContext() map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []any{
			map[string]any{
				"type": "mrkdwn",
				"text": "Time: " + a.now().UTC().Format("2006-01-02 15:04:05 UTC"),
			},
		},
	}
}

func payload(color string, blocks []any) map[string]any {
	return map[string]any{
		"attachments": []any{
			map[string]any{"color": color, "blocks": blocks},
		},
	}
}

func header(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{"type": "plain_text", "text": text, "emoji": true},
	}
}

func fieldSection(fields ...string) map[string]any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{"type": "mrkdwn", "text": f})
	}
	return map[string]any{"type": "section", "fields": out}
}
