// Package config holds the service configuration, loaded from environment
// variables with cleanenv. Each concern gets its own section struct; Load
// reads them all and applies defaults from the struct tags.
//
// All variables carry the IDM_ prefix except the shared EMAIL_* settings.
// Secrets (JWT signing key, database and SMTP passwords) come only from the
// environment and are never written to config files or logs.
package config
