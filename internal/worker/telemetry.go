package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"syncqueue/internal/models"
)

// postProcess runs the type-specific hook for a successful send.
func (p *Processor) postProcess(ctx context.Context, entry models.QueueEntry, resp models.HTTPResponse) error {
	switch entry.Type {
	case models.EntryTelemetry:
		return p.detectClockSkew(ctx, resp.Body)
	case models.EntryCourseProgress, models.EntryCourseAssessment, models.EntryGeneric:
		return nil
	default:
		return fmt.Errorf("no post-processing defined for entry type %q", entry.Type)
	}
}

// detectClockSkew persists the server/device offset when the device has not
// registered yet and the drift exceeds MaxClockSkewMillis.
func (p *Processor) detectClockSkew(ctx context.Context, body string) error {
	rows, err := p.store.Read(ctx, models.TableKV, []string{"value"}, "key = ?", models.KeyDeviceRegisterSuccess)
	if err != nil {
		return fmt.Errorf("read device registration flag: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	flag := strings.TrimSpace(fmt.Sprint(rows[0]["value"]))
	if !strings.EqualFold(flag, "false") {
		return nil
	}

	serverTime, err := parseServerTime(body)
	if err != nil {
		return err
	}

	offset := serverTime - p.now().UnixMilli()
	if abs(offset) <= models.MaxClockSkewMillis {
		return nil
	}

	if _, err := p.store.SetValue(ctx, models.KeyTelemetryMinAllowedOffset, strconv.FormatInt(offset, 10)); err != nil {
		return fmt.Errorf("persist clock offset: %w", err)
	}
	p.logger.Info().Int64("offset_ms", offset).Msg("clock skew recorded")
	return nil
}

// parseServerTime extracts ets (ms since epoch) given as a number or a numeric string.
func parseServerTime(body string) (int64, error) {
	var payload struct {
		Ets json.RawMessage `json:"ets"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return 0, fmt.Errorf("decode telemetry response: %w", err)
	}
	if len(payload.Ets) == 0 {
		return 0, fmt.Errorf("telemetry response has no ets")
	}

	raw := strings.Trim(string(payload.Ets), `"`)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ets %q: %w", raw, err)
	}
	return int64(f), nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
