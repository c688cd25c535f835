package mail

import (
	"context"
	"log/slog"
	"time"

	"orphan-recovery/internal/devcode"
	"orphan-recovery/internal/security"
)

// DevSender stores codes in a devcode.Store instead of sending email.
// Only wired when SMTP is not configured outside production.
type DevSender struct {
	store devcode.Store
	log   *slog.Logger
	nowF  func() time.Time
}

// NewDevSender returns a Sender that keeps codes for GET /dev/recovery/code.
func NewDevSender(store devcode.Store, log *slog.Logger) *DevSender {
	if log == nil {
		log = slog.Default()
	}
	return &DevSender{store: store, log: log, nowF: time.Now}
}

// SendCleanupCode stores code for to until ttl elapses. The code itself is never logged.
func (d *DevSender) SendCleanupCode(ctx context.Context, to, code string, ttl time.Duration) error {
	d.store.Put(ctx, to, code, d.nowF().Add(ttl))
	d.log.InfoContext(ctx, "mail: cleanup code stored for dev retrieval",
		"email_hash", security.HashEmail(to), "ttl", ttl.String())
	return nil
}
