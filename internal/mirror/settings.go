package mirror

import (
	"errors"
	"fmt"
	"strings"
)

// environment keys consumed in remote mode
const (
	EnvHost     = "BACKUP_HOST"
	EnvPath     = "BACKUP_PATH"
	EnvUser     = "BACKUP_USER"
	EnvPassword = "BACKUP_PASSWORD"
)

var ErrMissingSetting = errors.New("missing remote backup setting")

// Settings describes where and as whom the backup directory is mirrored
type Settings struct {
	Host     string
	Path     string
	User     string
	Password string
}

// LoadSettings reads settings with lookup (os.LookupEnv normally). Host, user and
// password are required, path is optional
func LoadSettings(lookup func(string) (string, bool)) (Settings, error) {
	var missing []string
	get := func(key string, required bool) string {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		if required && (!ok || v == "") {
			missing = append(missing, key)
		}
		return v
	}
	s := Settings{
		Host:     get(EnvHost, true),
		Path:     get(EnvPath, false),
		User:     get(EnvUser, true),
		Password: get(EnvPassword, true),
	}
	if len(missing) > 0 {
		return Settings{}, fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	return s, nil
}

// Guidance is printed to the user when settings are incomplete
var Guidance = fmt.Sprintf("If using the '--remote' option, please ensure the %s, %s, %s and optionally %s "+
	"environment variables are set, either in the environment or in the .env file.", EnvHost, EnvUser, EnvPassword, EnvPath)

// RemotePath returns share-relative destination of runDir: optional path with runDir appended,
// slash separated
func (s Settings) RemotePath(runDir string) string {
	parts := splitPath(s.Path)
	return strings.Join(append(parts, runDir), "/")
}

// Destination returns UNC path of runDir copy, for display
func (s Settings) Destination(runDir string) string {
	return `\\` + s.Host + `\` + strings.ReplaceAll(s.RemotePath(runDir), "/", `\`)
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// splitShare splits slash separated remote path into share name and directory inside the share
func splitShare(remote string) (share, dir string) {
	share, dir, _ = strings.Cut(remote, "/")
	return share, dir
}
