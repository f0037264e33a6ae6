package device

import (
	"regexp"
	"strings"
)

// number of leading lines in "show running-config" output that precede the
// configuration itself ("Building configuration...", blank, "Current configuration : N bytes")
const skipLines = 3

var hostnameRe = regexp.MustCompile(`\bhostname\s+(\S+)`)

// ParseBackup takes raw command output, drops the first skipLines lines and
// looks for a "hostname <token>" line anywhere in what remains. Returned config is
// the remaining text unchanged. ok is false when no hostname line found.
func ParseBackup(raw string) (config string, hostname string, ok bool) {
	lines := strings.Split(raw, "\n")
	if len(lines) <= skipLines {
		return "", "", false
	}
	config = strings.Join(lines[skipLines:], "\n")
	m := hostnameRe.FindStringSubmatch(config)
	if m == nil {
		return config, "", false
	}
	return config, m[1], true
}
