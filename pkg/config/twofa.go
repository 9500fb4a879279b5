package config

import "time"

// TwoFactorConfig holds the two-factor subsystem settings. LockedRoles
// cannot disable 2FA once enabled; RequiredRoles must enable it before
// their accounts count as fully set up.
type TwoFactorConfig struct {
	Issuer          string        `env:"IDM_2FA_ISSUER" env-default:"MediConnect"`
	EnrollmentTTL   time.Duration `env:"IDM_2FA_ENROLLMENT_TTL" env-default:"5m"`
	BackupCodeCount int           `env:"IDM_2FA_BACKUP_CODE_COUNT" env-default:"10"`
	LockedRoles     []string      `env:"IDM_2FA_LOCKED_ROLES" env-separator:"," env-default:"admin,security_officer"`
	RequiredRoles   []string      `env:"IDM_2FA_REQUIRED_ROLES" env-separator:"," env-default:""`
}
