package retry

import (
	"time"

	"github.com/teranos/easyjob/am"
)

// FromConfig builds a policy from the [retry] section. Zero values fall
// back to the defaults, except MaxAttempts where 0 means no retries.
func FromConfig(cfg am.RetryConfig) Policy {
	p := Default()
	p.MaxAttempts = cfg.MaxAttempts
	if cfg.BaseDelayMS > 0 {
		p.BaseDelay = time.Duration(cfg.BaseDelayMS) * time.Millisecond
	}
	if cfg.MaxDelayMS > 0 {
		p.MaxDelay = time.Duration(cfg.MaxDelayMS) * time.Millisecond
	}
	if cfg.Factor >= 1 {
		p.Factor = cfg.Factor
	}
	return p
}
