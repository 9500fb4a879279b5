// Package notification delivers security notices to account holders when
// their two-factor settings change. Delivery is best-effort: a failed notice
// is logged, never allowed to fail the security operation that triggered it.
package notification

import "context"

// NoticeType identifies a security notice template.
type NoticeType string

const (
	NoticeTwoFactorEnabled       NoticeType = "twofa_enabled"
	NoticeTwoFactorDisabled      NoticeType = "twofa_disabled"
	NoticeBackupCodesRegenerated NoticeType = "backup_codes_regenerated"
)

// Notice is a rendered security notification for one recipient.
type Notice struct {
	To      string
	Subject string
	Body    string
}

// Notifier sends security notices. Implementations must never be handed
// secret material; callers compose the Notice from non-sensitive fields only.
type Notifier interface {
	Send(ctx context.Context, noticeType NoticeType, notice Notice) error
}

// NoopNotifier discards notices. Useful in tests and when SMTP is not
// configured.
type NoopNotifier struct{}

func (NoopNotifier) Send(ctx context.Context, noticeType NoticeType, notice Notice) error {
	return nil
}
