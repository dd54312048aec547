// Package appinfo provides application identity constants.
// These are used across packages for consistent naming.
package appinfo

const (
	// AppName is the display name of the application.
	AppName = "CineBot Attend"

	// DirName is the directory name used for storing application data.
	// Location: %LOCALAPPDATA%/attendd/ (Windows) or ~/.config/attendd/ (other)
	DirName = "attendd"

	// MutexName is the Windows mutex name for single instance control.
	// "Local\" prefix scopes the mutex to the current user session. The
	// engine assumes a single active process per deployment; two copies
	// against the same database would double-count sessions.
	MutexName = "Local\\cinebot-attendd"

	// ConfigFileName is the configuration file name.
	ConfigFileName = "config.yaml"

	// SecretsFileName is the secrets file name.
	SecretsFileName = "secrets.json"

	// DatabaseFileName is the SQLite database file name.
	DatabaseFileName = "attend.sqlite"
)
