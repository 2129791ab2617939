package security

import "time"

// Report summarizes the security-relevant posture of a configured engine.
type Report struct {
	BackendKind           string
	Distributed           bool
	RateLimitingActive    bool
	RatePolicies          int
	SessionTTL            time.Duration
	AbsoluteLifetime      time.Duration
	SessionLifetimeCapped bool
	ClientBindingDetect   bool
	ClientBindingEnforced bool
	PasswordResetActive   bool
	ResetTokenTTL         time.Duration
	ResetIPThrottled      bool
	BcryptCost            int
	TokenHashKeyed        bool
	AuditEnabled          bool
	MetricsEnabled        bool
	Findings              []string
}

// ReportInput is the flattened configuration a Report is derived from.
type ReportInput struct {
	BackendKind          string
	Distributed          bool
	RateLimitEnabled     bool
	RatePolicies         int
	SessionTTL           time.Duration
	AbsoluteLifetime     time.Duration
	DetectIPChange       bool
	DetectUserAgent      bool
	EnforceIP            bool
	EnforceUserAgent     bool
	PasswordResetEnabled bool
	ResetTokenTTL        time.Duration
	MaxResetPerIP        int
	BcryptCost           int
	TokenHashKeyLen      int
	AuditEnabled         bool
	MetricsEnabled       bool
	Findings             []string
}

func BuildReport(input ReportInput) Report {
	findings := make([]string, len(input.Findings))
	copy(findings, input.Findings)

	return Report{
		BackendKind:           input.BackendKind,
		Distributed:           input.Distributed,
		RateLimitingActive:    input.RateLimitEnabled && input.RatePolicies > 0,
		RatePolicies:          input.RatePolicies,
		SessionTTL:            input.SessionTTL,
		AbsoluteLifetime:      input.AbsoluteLifetime,
		SessionLifetimeCapped: input.AbsoluteLifetime > 0,
		ClientBindingDetect:   input.DetectIPChange || input.DetectUserAgent,
		ClientBindingEnforced: input.EnforceIP || input.EnforceUserAgent,
		PasswordResetActive:   input.PasswordResetEnabled,
		ResetTokenTTL:         input.ResetTokenTTL,
		ResetIPThrottled:      input.PasswordResetEnabled && input.MaxResetPerIP > 0,
		BcryptCost:            input.BcryptCost,
		TokenHashKeyed:        input.TokenHashKeyLen > 0,
		AuditEnabled:          input.AuditEnabled,
		MetricsEnabled:        input.MetricsEnabled,
		Findings:              findings,
	}
}
