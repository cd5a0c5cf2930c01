package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/registry"
	"github.com/downlee/downlee/internal/routing"
	"github.com/downlee/downlee/internal/store"
)

// Intake subscribes to the chat provider and turns every inbound file-bearing
// message into a job with a running download worker.
type Intake struct {
	app  *app.Context
	dial Dialer
}

func NewIntake(a *app.Context, dial Dialer) *Intake {
	return &Intake{app: a, dial: dial}
}

// LoadSettings merges the settings table over the config file fallbacks.
func LoadSettings(a *app.Context) Settings {
	cfg := a.Config.Chat
	s := Settings{
		ProviderAppID:   cfg.ProviderAppID,
		ProviderAppHash: cfg.ProviderAppHash,
		TargetChannelID: cfg.TargetChannelID,
		SessionFile:     cfg.SessionFile,
	}

	if v, err := a.Store.GetSetting(store.SettingProviderAppID); err == nil && v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			s.ProviderAppID = id
		}
	}
	if v, err := a.Store.GetSetting(store.SettingProviderAppHash); err == nil && v != "" {
		s.ProviderAppHash = v
	}
	if v, err := a.Store.GetSetting(store.SettingTargetChannelID); err == nil && v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.TargetChannelID = id
		}
	}
	return s
}

// Run consumes the message stream until the context ends. When the provider
// is not configured it returns ErrNotConfigured after logging the fix; the
// rest of the system keeps serving.
func (in *Intake) Run(ctx context.Context) error {
	settings := LoadSettings(in.app)
	if !settings.Configured() {
		in.app.Logger.Warn("chat intake idle: provider credentials missing; set provider_app_id, provider_app_hash and target_channel_id via the web settings")
		return domain.ErrNotConfigured
	}
	if in.dial == nil {
		in.app.Logger.Warn("chat intake idle: no provider adapter linked into this build")
		return domain.ErrNotConfigured
	}

	client, err := in.dial(ctx, settings)
	if err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			in.app.Logger.Warn("chat intake idle: %v", err)
			return err
		}
		in.app.Logger.Error("chat session failed: %v", err)
		return err
	}
	defer client.Close()

	in.app.Logger.Info("chat intake listening on channel %d", settings.TargetChannelID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-client.Messages():
			if !ok {
				return nil
			}
			in.Handle(ctx, msg)
		}
	}
}

// Handle creates the job for one inbound message and starts its worker.
// Exported so a reconnecting session can replay missed messages through it.
func (in *Intake) Handle(ctx context.Context, msg Message) {
	kind := routing.KindForMIME(msg.MIMEType())
	folder := in.app.Routing.ResolveDestination(domain.SourceTagChat, kind)

	filename := domain.SanitizeFilename(msg.Filename())
	if filename == "" {
		filename = time.Now().Format("20060102_150405")
	}
	path := filepath.Join(folder, filename)
	externalID := strconv.FormatInt(msg.ID(), 10)

	job, err := in.app.Store.CreateJob(&domain.Job{
		ExternalID: externalID,
		SourceTag:  domain.SourceTagChat,
		File:       filename,
		Status:     domain.StatusDownloading,
	})
	if err != nil {
		in.app.Logger.Error("failed to record chat download %s: %v", externalID, err)
		return
	}
	in.app.EmitNew(job)

	// A colliding artifact belongs to another job; never overwrite it.
	if _, err := os.Stat(path); err == nil {
		status := domain.StatusFailed
		speed := 0.0
		errText := "filename collision: " + filename
		_ = in.app.Store.UpdateJobByExternalID(externalID, domain.JobPatch{
			Status: &status,
			Speed:  &speed,
			Error:  &errText,
		})
		in.app.EmitStatus(externalID, domain.StatusFailed, errText)
		return
	}

	w := NewWorker(in.app, msg, externalID, path)

	jobCtx, cancel := context.WithCancel(ctx)
	if err := in.app.Registry.Add(externalID, registry.Handle{Kind: domain.KindChat, Cancel: cancel}); err != nil {
		cancel()
		in.app.Logger.Warn("worker already active for %s, skipping", externalID)
		return
	}

	go w.Run(jobCtx)
}
