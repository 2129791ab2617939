package authcore

import (
	"github.com/campusreach/authcore/internal/security"
	"github.com/campusreach/authcore/store"
)

// SecurityReport summarizes the engine's effective security posture.
// Findings holds the codes reported by [Config.Lint].
type SecurityReport = security.Report

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cfg := e.config
	distributed := store.Distributed(e.backend)
	var findings []string
	for _, code := range cfg.Lint().Codes() {
		if code == "store_not_distributed" && distributed {
			continue
		}
		findings = append(findings, code)
	}

	return security.BuildReport(security.ReportInput{
		BackendKind:          store.Kind(e.backend),
		Distributed:          distributed,
		RateLimitEnabled:     !cfg.RateLimit.Disabled,
		RatePolicies:         len(cfg.RateLimit.Policies),
		SessionTTL:           cfg.Session.TTL,
		AbsoluteLifetime:     cfg.Session.AbsoluteLifetime,
		DetectIPChange:       cfg.ClientBinding.DetectIPChange,
		DetectUserAgent:      cfg.ClientBinding.DetectUserAgentChange,
		EnforceIP:            cfg.ClientBinding.EnforceIP,
		EnforceUserAgent:     cfg.ClientBinding.EnforceUserAgent,
		PasswordResetEnabled: e.reset != nil,
		ResetTokenTTL:        cfg.PasswordReset.TokenTTL,
		MaxResetPerIP:        cfg.PasswordReset.MaxRequestsPerIP,
		BcryptCost:           cfg.Password.BcryptCost,
		TokenHashKeyLen:      len(cfg.Store.TokenHashKey),
		AuditEnabled:         e.audit != nil,
		MetricsEnabled:       cfg.Metrics.Enabled,
		Findings:             findings,
	})
}
