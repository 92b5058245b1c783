package backup

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"codegraphix.dev/engine/backup/storage"
	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/telemetry"
)

// PreviewRestoreOptions tunes Phase 1.
type PreviewRestoreOptions struct {
	BackupID        string
	RequestedBy     string
	VerifyIntegrity bool
}

// PreviewRestore is Phase 1 of restoreBackup: load the manifest from the
// configured MetadataStore, validate each component's artifacts, optionally
// verify integrity, and issue a single-use, TTL'd RestoreToken. The legacy
// "<backupId>_metadata.json" sidecar is not read: a backup whose manifest
// is missing from the MetadataStore fails with CodeNotFound.
func (c *Coordinator) PreviewRestore(ctx context.Context, opts PreviewRestoreOptions) (PreviewResult, error) {
	operationID := opts.BackupID + ":preview:" + time.Now().Format("150405.000000000")
	c.phases.Register(operationID, "restore", opts.BackupID, c.requireSecondApproval)
	_ = c.phases.TransitionTo(operationID, PhasePreFlight, "loading manifest")

	manifest, err := c.metadata.Get(ctx, opts.BackupID)
	if err != nil {
		_ = c.phases.TransitionTo(operationID, PhaseFailed, "manifest not found")
		return PreviewResult{Status: "failed"}, cgerrors.Wrap(cgerrors.CodeNotFound, "backup manifest not found", err)
	}

	provider, err := c.providers.Get(manifest.StorageProvider)
	if err != nil {
		_ = c.phases.TransitionTo(operationID, PhaseFailed, "storage provider unavailable")
		return PreviewResult{Status: "failed"}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "storage provider unavailable", err)
	}

	_ = c.phases.TransitionTo(operationID, PhasePlanning, "validating artifacts")
	checks := c.validateArtifacts(ctx, provider, *manifest)

	blocking := false
	for _, check := range checks {
		if check.Result == "invalid" || check.Result == "missing" {
			blocking = true
		}
	}

	var integrity *IntegrityReport
	if opts.VerifyIntegrity {
		report, err := c.verifyIntegrity(ctx, provider, *manifest)
		if err != nil {
			_ = c.phases.TransitionTo(operationID, PhaseFailed, "integrity verification failed")
			return PreviewResult{Status: "failed"}, cgerrors.Wrap(cgerrors.CodeRestoreIntegrityFail, "integrity verification failed", err)
		}
		integrity = &report
		if !report.ChecksumMatches {
			blocking = true
		}
	}

	token := newRestoreToken()
	now := time.Now().UTC()
	rt := RestoreToken{
		Token: token, BackupID: opts.BackupID, IssuedAt: now, ExpiresAt: now.Add(c.tokenTTL),
		RequestedBy: opts.RequestedBy, RequiresApproval: c.requireSecondApproval, CanProceed: !blocking,
	}
	if err := c.tokens.Issue(rt); err != nil {
		_ = c.phases.TransitionTo(operationID, PhaseFailed, "token issuance failed")
		return PreviewResult{Status: "failed"}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to issue restore token", err)
	}

	_ = c.phases.TransitionTo(operationID, PhaseCancelling, "preview complete, awaiting apply")
	_ = c.phases.TransitionTo(operationID, PhaseCancelled, "preview-only operation retired")
	c.phases.Remove(operationID)

	status := "dry_run_completed"
	if blocking {
		status = "failed"
	}

	c.emit(telemetry.LevelInfo, "restore preview completed", map[string]interface{}{"backupId": opts.BackupID, "token": token, "canProceed": !blocking})

	return PreviewResult{
		Status: status, Changes: checks, IntegrityCheck: integrity,
		Token: token, ExpiresAt: rt.ExpiresAt, RequiresApproval: c.requireSecondApproval,
	}, nil
}

// ApproveRestore marks a preview-issued token approved, required before
// ApplyRestore when requireSecondApproval is set.
func (c *Coordinator) ApproveRestore(ctx context.Context, token, approvedBy, reason string) error {
	tok, err := c.tokens.Get(token)
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeRestoreTokenInvalid, "restore token not found", err)
	}
	if time.Now().UTC().After(tok.ExpiresAt) {
		return cgerrors.New(cgerrors.CodeRestoreTokenExpired, "restore token has expired")
	}
	if err := c.tokens.Approve(token, approvedBy); err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to record approval", err)
	}
	c.emit(telemetry.LevelInfo, "restore approved", map[string]interface{}{"backupId": tok.BackupID, "approvedBy": approvedBy, "reason": reason})
	return nil
}

// ApplyRestoreOptions tunes Phase 2.
type ApplyRestoreOptions struct {
	BackupID        string
	Token           string
	VerifyIntegrity bool
}

// ApplyRestore is Phase 2: validate the (possibly-approved) token, refuse
// on blocking validation/missing approval, re-run integrity if requested,
// restore each component, consume the token, and emit metrics.
func (c *Coordinator) ApplyRestore(ctx context.Context, opts ApplyRestoreOptions) error {
	if opts.Token == "" {
		return cgerrors.New(cgerrors.CodeRestoreTokenRequired, "a restore token from PreviewRestore is required")
	}

	tok, err := c.tokens.Get(opts.Token)
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeRestoreTokenInvalid, "restore token not found", err)
	}
	if tok.Consumed {
		return cgerrors.New(cgerrors.CodeRestoreTokenInvalid, "restore token already consumed")
	}
	if tok.BackupID != opts.BackupID {
		return cgerrors.New(cgerrors.CodeRestoreTokenInvalid, "restore token does not match backup id")
	}
	if time.Now().UTC().After(tok.ExpiresAt) {
		return cgerrors.New(cgerrors.CodeRestoreTokenExpired, "restore token has expired")
	}
	if tok.RequiresApproval && !tok.Approved {
		return cgerrors.New(cgerrors.CodeRestoreApprovalReq, "restore requires approval before apply")
	}
	if !tok.CanProceed && !tok.Approved {
		return cgerrors.New(cgerrors.CodeRestoreValidationFail, "preview flagged blocking validation issues and token is unapproved")
	}

	operationID := opts.BackupID + ":apply:" + time.Now().Format("150405.000000000")
	c.phases.Register(operationID, "restore", opts.BackupID, tok.RequiresApproval)
	if tok.Approved {
		_ = c.phases.Approve(operationID)
	}
	_ = c.phases.TransitionTo(operationID, PhasePreFlight, "loading manifest")

	manifest, err := c.metadata.Get(ctx, opts.BackupID)
	if err != nil {
		_ = c.phases.TransitionTo(operationID, PhaseFailed, "manifest not found")
		return cgerrors.Wrap(cgerrors.CodeNotFound, "backup manifest not found", err)
	}
	provider, err := c.providers.Get(manifest.StorageProvider)
	if err != nil {
		_ = c.phases.TransitionTo(operationID, PhaseFailed, "storage provider unavailable")
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "storage provider unavailable", err)
	}

	if opts.VerifyIntegrity {
		_ = c.phases.TransitionTo(operationID, PhasePlanning, "re-verifying integrity")
		report, err := c.verifyIntegrity(ctx, provider, *manifest)
		if err != nil || !report.ChecksumMatches {
			_ = c.phases.TransitionTo(operationID, PhaseFailed, "integrity mismatch")
			return cgerrors.New(cgerrors.CodeRestoreIntegrityFail, "integrity check failed during apply")
		}
	} else {
		_ = c.phases.TransitionTo(operationID, PhasePlanning, "skipping integrity re-check")
	}

	if err := c.phases.TransitionTo(operationID, PhaseExecution, "restoring components"); err != nil {
		return cgerrors.Wrap(cgerrors.CodeRestoreApprovalReq, "cannot enter execution phase", err)
	}

	if manifest.Components.Graph {
		data, err := provider.ReadFile(ctx, opts.BackupID+"/graph.json")
		if err != nil {
			return c.failRestore(operationID, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to read graph artifact", err))
		}
		if err := c.restoreGraph(ctx, data); err != nil {
			return c.failRestore(operationID, err)
		}
	}
	if manifest.Components.Vector {
		data, err := provider.ReadFile(ctx, opts.BackupID+"/vector.json")
		if err != nil {
			return c.failRestore(operationID, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to read vector artifact", err))
		}
		if err := c.restoreVector(ctx, data); err != nil {
			return c.failRestore(operationID, err)
		}
	}
	if manifest.Components.Config {
		data, err := provider.ReadFile(ctx, opts.BackupID+"/config.json")
		if err == nil {
			c.emit(telemetry.LevelInfo, "config artifact present in backup, not applied automatically", map[string]interface{}{"backupId": opts.BackupID, "bytes": len(data)})
		}
	}

	_ = c.phases.TransitionTo(operationID, PhaseCompleting, "consuming token")
	if err := c.tokens.Consume(opts.Token); err != nil {
		c.emit(telemetry.LevelWarn, "failed to mark restore token consumed", map[string]interface{}{"token": opts.Token, "error": err.Error()})
	}
	_ = c.phases.TransitionTo(operationID, PhaseCompleted, "restore applied")
	c.phases.Remove(operationID)

	c.emit(telemetry.LevelInfo, "restore applied", map[string]interface{}{"backupId": opts.BackupID})
	return nil
}

func (c *Coordinator) failRestore(operationID string, err error) error {
	_ = c.phases.TransitionTo(operationID, PhaseFailed, "component restore failed")
	c.phases.Remove(operationID)
	return cgerrors.AsMaintenanceOperation(err, "restore", "restore_component")
}

// validateArtifacts checks each enabled component's artifact exists and
// parses, per the base spec's preview validators.
func (c *Coordinator) validateArtifacts(ctx context.Context, provider storage.Provider, m Manifest) []ArtifactCheck {
	var checks []ArtifactCheck

	check := func(component, path string, enabled bool) {
		if !enabled {
			return
		}
		exists, err := provider.Exists(ctx, path)
		if err != nil {
			checks = append(checks, ArtifactCheck{Component: component, Result: "invalid", Detail: err.Error()})
			return
		}
		if !exists {
			checks = append(checks, ArtifactCheck{Component: component, Result: "missing", Detail: path})
			return
		}
		data, err := provider.ReadFile(ctx, path)
		if err != nil {
			checks = append(checks, ArtifactCheck{Component: component, Result: "invalid", Detail: err.Error()})
			return
		}
		if len(data) == 0 {
			checks = append(checks, ArtifactCheck{Component: component, Result: "warning", Detail: "artifact is empty"})
			return
		}
		checks = append(checks, ArtifactCheck{Component: component, Result: "valid"})
	}

	check("graph", m.ID+"/graph.json", m.Components.Graph)
	check("vector", m.ID+"/vector.json", m.Components.Vector)
	check("config", m.ID+"/config.json", m.Components.Config)

	return checks
}

// verifyIntegrity recomputes the backup's checksum and compares it to the
// manifest, reporting any artifacts the manifest expects but the provider
// no longer has.
func (c *Coordinator) verifyIntegrity(ctx context.Context, provider storage.Provider, m Manifest) (IntegrityReport, error) {
	paths, err := provider.List(ctx, m.ID)
	if err != nil {
		return IntegrityReport{}, err
	}

	var missing []string
	expect := func(name string, enabled bool) {
		if !enabled {
			return
		}
		found := false
		want := m.ID + "/" + name
		for _, p := range paths {
			if p == want {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	expect("graph.json", m.Components.Graph)
	expect("vector.json", m.Components.Vector)
	expect("config.json", m.Components.Config)

	var present []string
	for _, p := range paths {
		if p == m.ID+"/_metadata.json" || p == m.ID+"_metadata.json" || p == m.ID+"/"+m.ID+"_metadata.json" || p == m.ID+"/archive.tar.gz" {
			continue
		}
		present = append(present, p)
	}
	_, checksum, err := c.checksumArtifacts(ctx, provider, present)
	if err != nil {
		return IntegrityReport{}, err
	}

	return IntegrityReport{
		Verified: true, ExpectedSum: m.Checksum, ActualSum: checksum,
		MissingFiles: missing, ChecksumMatches: checksum == m.Checksum && len(missing) == 0,
	}, nil
}

func newRestoreToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("rt_%s", hex.EncodeToString(buf))
}
