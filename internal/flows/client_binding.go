package flows

import (
	"context"
	"crypto/subtle"
)

// ClientBindingSubject is the recorded client of a session.
type ClientBindingSubject struct {
	Handle    string
	UserID    string
	IPAddress string
	UserAgent string
}

// ClientBindingConfig mirrors the root configuration.
type ClientBindingConfig struct {
	DetectIPChange        bool
	DetectUserAgentChange bool
	EnforceIP             bool
	EnforceUserAgent      bool
}

type ClientBindingDeps struct {
	Config           ClientBindingConfig
	CurrentIP        string
	CurrentUserAgent string
	HashBindingValue func(string) [32]byte
	MetricInc        func(int)
	EmitMismatch     func(ctx context.Context, subject ClientBindingSubject, meta map[string]string)
	EmitRejected     func(ctx context.Context, subject ClientBindingSubject, meta map[string]string)

	MetricClientMismatch  int
	MetricBindingRejected int
	ErrBindingRejected    error
}

// RunCheckClientBinding compares the session's recorded client with the
// current request. A detected change is reported through EmitMismatch and
// never fails on its own; only an enforced dimension returns
// ErrBindingRejected.
func RunCheckClientBinding(ctx context.Context, subject ClientBindingSubject, deps ClientBindingDeps) error {
	cfg := deps.Config

	ipMismatch := false
	if cfg.DetectIPChange || cfg.EnforceIP {
		ipMismatch = bindingMismatch(subject.IPAddress, deps.CurrentIP, cfg.EnforceIP, deps.HashBindingValue)
	}
	uaMismatch := false
	if cfg.DetectUserAgentChange || cfg.EnforceUserAgent {
		uaMismatch = bindingMismatch(subject.UserAgent, deps.CurrentUserAgent, cfg.EnforceUserAgent, deps.HashBindingValue)
	}
	if !ipMismatch && !uaMismatch {
		return nil
	}

	deps.MetricInc(deps.MetricClientMismatch)
	if deps.EmitMismatch != nil {
		deps.EmitMismatch(ctx, subject, func() map[string]string {
			meta := map[string]string{}
			if ipMismatch {
				meta["ip_mismatch"] = "1"
			}
			if uaMismatch {
				meta["ua_mismatch"] = "1"
			}
			return meta
		}())
	}

	if (ipMismatch && cfg.EnforceIP) || (uaMismatch && cfg.EnforceUserAgent) {
		deps.MetricInc(deps.MetricBindingRejected)
		if deps.EmitRejected != nil {
			meta := map[string]string{}
			if ipMismatch && cfg.EnforceIP {
				meta["enforced_ip_mismatch"] = "1"
			}
			if uaMismatch && cfg.EnforceUserAgent {
				meta["enforced_ua_mismatch"] = "1"
			}
			deps.EmitRejected(ctx, subject, meta)
		}
		return deps.ErrBindingRejected
	}
	return nil
}

// bindingMismatch is lenient unless enforce is set: a missing value on
// either side is not a change. Under enforcement a recorded value that the
// request does not present counts as a mismatch.
func bindingMismatch(stored, current string, enforce bool, hashFn func(string) [32]byte) bool {
	if stored == "" {
		return false
	}
	if current == "" {
		return enforce
	}
	a, b := hashFn(stored), hashFn(current)
	return subtle.ConstantTimeCompare(a[:], b[:]) != 1
}
