package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/types"
)

// --- Meter handlers ---

// meterSessions returns the targeted session names.
func (h *CommandHandler) meterSessions(session string) []string {
	if session == "" {
		return h.hub.Names()
	}
	return []string{session}
}

// handleMeterStart processes a meter/start command.
func (h *CommandHandler) handleMeterStart(cmd WSCommand, send chan<- any) {
	var req MeterSessionRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	cfg := h.cfg.MeterConfig()
	for _, name := range h.meterSessions(req.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), types.SourceStartTimeout)
		err := h.hub.Start(ctx, name, cfg)
		cancel()
		SendMeterResult(send, "start", name, err)
	}
}

// handleMeterStop processes a meter/stop command.
func (h *CommandHandler) handleMeterStop(cmd WSCommand, send chan<- any) {
	var req MeterSessionRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	for _, name := range h.meterSessions(req.Session) {
		SendMeterResult(send, "stop", name, h.hub.Stop(name))
	}
}

// handleMeterUpdate processes a meter/update command.
func (h *CommandHandler) handleMeterUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *MeterUpdateRequest) error {
		if req.Limit != nil {
			if err := h.ApplyLimit(*req.Limit); err != nil {
				return err
			}
		}

		if !req.hasCalibration() {
			return nil
		}
		cur := h.cfg.Snapshot().MeterSettings
		setIf(&cur.Gain, req.Gain)
		setIf(&cur.NoiseFloor, req.NoiseFloor)
		setIf(&cur.Alpha, req.Alpha)
		setIf(&cur.MaxStep, req.MaxStep)
		setIf(&cur.Hysteresis, req.Hysteresis)
		setIf(&cur.SustainMs, req.SustainMs)
		setIf(&cur.AlertDurationMs, req.AlertDurationMs)
		setIf(&cur.CooldownMs, req.CooldownMs)

		if err := h.cfg.SetMeter(cur); err != nil {
			return err
		}
		slog.Info("meter/update: calibration saved, applies on next start")
		return nil
	})
}

// ApplyLimit applies limit to every session and persists it. A limit any
// session rejects is neither applied nor saved.
func (h *CommandHandler) ApplyLimit(limit float64) error {
	prev := h.cfg.MeterConfig().Limit
	if err := h.hub.CheckLimit(limit); err != nil {
		return err
	}
	if err := h.cfg.SetMeterLimit(limit); err != nil {
		return err
	}
	if err := h.hub.SetLimit(limit); err != nil {
		if rbErr := h.cfg.SetMeterLimit(prev); rbErr != nil {
			slog.Error("failed to restore meter limit", "limit", prev, "error", rbErr)
		}
		return err
	}
	if h.limits != nil && prev != limit {
		now := time.Now()
		for _, name := range h.hub.Names() {
			h.limits.LimitChanged(name, now, prev, limit)
		}
	}
	slog.Info("meter limit changed", "from", prev, "to", limit)
	return nil
}

func (r *MeterUpdateRequest) hasCalibration() bool {
	return r.Gain != nil || r.NoiseFloor != nil || r.Alpha != nil || r.MaxStep != nil ||
		r.Hysteresis != nil || r.SustainMs != nil || r.AlertDurationMs != nil || r.CooldownMs != nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command.
// The capture device is opened at startup, so changes apply after a restart.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *AudioUpdateRequest) error {
		if req.Input != nil {
			slog.Info("audio/update: changing audio input", "input", *req.Input)
			if err := h.cfg.SetAudioInput(*req.Input); err != nil {
				return err
			}
		}
		if req.Backend != nil {
			slog.Info("audio/update: changing capture backend", "backend", *req.Backend)
			if err := h.cfg.SetAudioBackend(*req.Backend); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Archive handlers ---

// handleArchiveUpdate processes an archive/update command.
func (h *CommandHandler) handleArchiveUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ArchiveUpdateRequest) error {
		return h.cfg.SetArchive(config.ArchiveConfig{
			Enabled:         req.Enabled,
			IntervalMinutes: req.IntervalMinutes,
			S3: types.S3Config{
				Endpoint:        req.Endpoint,
				Region:          req.Region,
				Bucket:          req.Bucket,
				Prefix:          req.Prefix,
				AccessKeyID:     req.AccessKeyID,
				SecretAccessKey: req.SecretAccessKey,
			},
		})
	})
}

// handleArchiveRun processes an archive/run command.
func (h *CommandHandler) handleArchiveRun(cmd WSCommand, send chan<- any) {
	if h.archiver == nil {
		SendError(send, cmd.Type, errArchiveUnavailable)
		return
	}
	HandleActionAsync(cmd, send, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		n, err := h.archiver.ArchiveNow(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"uploaded": n}, nil
	})
}

// --- Config handlers ---

// handleConfigGet processes a config/get command.
// Secrets are masked before sending.
func (h *CommandHandler) handleConfigGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	snap.WebPassword = ""
	snap.Graph.ClientSecret = maskSecret(snap.Graph.ClientSecret)
	snap.Archive.S3.SecretAccessKey = maskSecret(snap.Archive.S3.SecretAccessKey)

	trySend(send, "config/get", types.WSConfigResponse{
		Type:   "config",
		Config: snap,
	})
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
