package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// hardBlockPath checks an absolute path against every protected OS location
// this process must never let a write/edit/delete touch, unconditionally —
// no policy setting or confirmation can override these. Returns a non-empty
// reason if blocked.
func hardBlockPath(absPath string) string {
	absPath = filepath.Clean(absPath)

	switch runtime.GOOS {
	case "darwin":
		return hardBlockPathDarwin(absPath)
	case "windows":
		return hardBlockPathWindows(absPath)
	default:
		return hardBlockPathLinux(absPath)
	}
}

func hardBlockPathDarwin(absPath string) string {
	if absPath == "/" {
		return "this is the root filesystem"
	}
	prefixes := []struct{ prefix, reason string }{
		{"/System", "macOS system files (SIP-protected)"},
		{"/usr/bin", "system binaries"},
		{"/usr/sbin", "system admin binaries"},
		{"/usr/lib", "system libraries"},
		{"/usr/libexec", "system executables"},
		{"/bin", "core system binaries"},
		{"/sbin", "core system admin binaries"},
		{"/private/var/db", "macOS system databases"},
		{"/Library/LaunchDaemons", "system launch daemons"},
		{"/Library/LaunchAgents", "system launch agents"},
		{"/etc", "system configuration"},
	}
	if reason := matchPrefix(absPath, prefixes); reason != "" {
		return reason
	}
	return hardBlockUserPath(absPath)
}

func hardBlockPathLinux(absPath string) string {
	if absPath == "/" {
		return "this is the root filesystem"
	}
	prefixes := []struct{ prefix, reason string }{
		{"/bin", "core system binaries"},
		{"/sbin", "core system admin binaries"},
		{"/usr/bin", "system binaries"},
		{"/usr/sbin", "system admin binaries"},
		{"/usr/lib", "system libraries"},
		{"/boot", "boot loader and kernel"},
		{"/etc", "system configuration"},
		{"/proc", "kernel process filesystem"},
		{"/sys", "kernel sysfs"},
		{"/dev", "device files"},
		{"/root", "root user home directory"},
		{"/var/lib/dpkg", "package manager database"},
		{"/var/lib/rpm", "package manager database"},
		{"/var/lib/apt", "package manager cache"},
	}
	if reason := matchPrefix(absPath, prefixes); reason != "" {
		return reason
	}
	return hardBlockUserPath(absPath)
}

func hardBlockPathWindows(absPath string) string {
	absLower := strings.ToLower(absPath)
	prefixes := []struct{ prefix, reason string }{
		{`c:\windows`, "Windows system directory"},
		{`c:\program files`, "installed program files"},
		{`c:\program files (x86)`, "installed program files (32-bit)"},
		{`c:\programdata`, "system program data"},
		{`c:\recovery`, "Windows recovery partition"},
	}
	for _, p := range prefixes {
		if absLower == p.prefix || strings.HasPrefix(absLower, p.prefix+`\`) {
			return p.reason
		}
	}
	return ""
}

func matchPrefix(absPath string, prefixes []struct{ prefix, reason string }) string {
	for _, p := range prefixes {
		if absPath == p.prefix || strings.HasPrefix(absPath, p.prefix+"/") {
			return p.reason
		}
	}
	return ""
}

// hardBlockUserPath protects credential directories under the caller's home
// regardless of workspace-root configuration — a declared workspace root
// never makes ~/.ssh or cloud credentials fair game.
func hardBlockUserPath(absPath string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	sensitive := []struct{ rel, reason string }{
		{".ssh", "SSH keys and configuration"},
		{".gnupg", "GPG keys and configuration"},
		{".aws/credentials", "AWS credentials"},
		{".aws/config", "AWS configuration"},
		{".kube/config", "Kubernetes credentials"},
		{".docker/config.json", "Docker registry credentials"},
	}
	for _, s := range sensitive {
		protected := filepath.Join(home, s.rel)
		if absPath == protected || strings.HasPrefix(absPath, protected+"/") {
			return s.reason
		}
	}
	return ""
}

// sensitiveAnywhereReason reports whether any path component of p matches a
// credential/secret-file pattern — .ssh, .git, .env*, .npmrc, .pypirc,
// .netrc, id_rsa*, id_ed25519*, cred*, credentials*, or any component
// containing "key" — independent of workspace-root configuration. Unlike
// hardBlockUserPath (six fixed paths under the caller's home), this applies
// to any path, workspace-relative or absolute, per spec.md §4.J.
func sensitiveAnywhereReason(p string) string {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == "" || part == "." {
			continue
		}
		if reason := sensitivePathComponentReason(part); reason != "" {
			return reason
		}
	}
	return ""
}

func sensitivePathComponentReason(part string) string {
	lower := strings.ToLower(part)
	switch lower {
	case ".ssh":
		return "SSH keys and configuration"
	case ".git":
		return "version control internals"
	case ".gnupg":
		return "GPG keys and configuration"
	case ".npmrc":
		return "npm registry credentials"
	case ".pypirc":
		return "PyPI registry credentials"
	case ".netrc":
		return "stored network credentials"
	}
	switch {
	case strings.HasPrefix(lower, ".env"):
		return "environment secrets file"
	case strings.HasPrefix(lower, "id_rsa"):
		return "SSH private key"
	case strings.HasPrefix(lower, "id_ed25519"):
		return "SSH private key"
	case strings.HasPrefix(lower, "credentials"):
		return "stored credentials"
	case strings.HasPrefix(lower, "cred"):
		return "stored credentials"
	case strings.Contains(lower, "key"):
		return "possible key material"
	}
	return ""
}

func hasSudo(cmdLower string) bool {
	if strings.HasPrefix(cmdLower, "sudo ") || strings.HasPrefix(cmdLower, "sudo\t") {
		return true
	}
	for _, sep := range []string{" | sudo ", "| sudo ", " && sudo ", "&& sudo ", " ; sudo ", "; sudo ", " || sudo ", "|| sudo "} {
		if strings.Contains(cmdLower, sep) {
			return true
		}
	}
	if strings.Contains(cmdLower, "$(sudo ") || strings.Contains(cmdLower, "`sudo ") {
		return true
	}
	return false
}

func hasSu(cmdLower string) bool {
	if strings.HasPrefix(cmdLower, "su ") || strings.HasPrefix(cmdLower, "su\t") || cmdLower == "su" {
		return true
	}
	for _, sep := range []string{" | su ", " && su ", " ; su ", " || su "} {
		if strings.Contains(cmdLower, sep) {
			return true
		}
	}
	return false
}

func isRootWipe(cmdLower string) bool {
	wipePatterns := []string{
		"rm -rf /", "rm -fr /", "rm -rf /*", "rm -fr /*",
		"rm -rf --no-preserve-root /", "rm -rf --no-preserve-root /*",
	}
	for _, p := range wipePatterns {
		idx := strings.Index(cmdLower, p)
		if idx < 0 {
			continue
		}
		after := cmdLower[idx+len(p):]
		if p[len(p)-1] == '/' && (after == "" || after[0] == ' ' || after[0] == '\n' || after[0] == ';' || after[0] == '&') {
			return true
		}
		if p[len(p)-1] == '*' {
			return true
		}
	}
	return false
}

// hardBlockCommand checks a shell command line against the unconditional
// destructive-operation blocklist, independent of any workspace/path policy.
func hardBlockCommand(cmd string) string {
	cmdLower := strings.ToLower(strings.TrimSpace(cmd))

	if hasSudo(cmdLower) {
		return "sudo is not permitted — commands never run with elevated privileges"
	}
	if hasSu(cmdLower) {
		return "su is not permitted — commands never switch user"
	}
	if isRootWipe(cmdLower) {
		return "cannot delete the root filesystem — this would destroy the operating system"
	}
	if strings.Contains(cmdLower, "dd ") && (strings.Contains(cmdLower, "of=/dev/") || strings.Contains(cmdLower, "of= /dev/")) {
		return "cannot write to block devices with dd — this could destroy disk data"
	}

	formatCmds := []struct{ pattern, reason string }{
		{"mkfs", "cannot format filesystems — this would destroy all data on the target device"},
		{"fdisk", "cannot modify disk partition tables — this could destroy all data on the drive"},
		{"gdisk", "cannot modify GPT partition tables — this could destroy all data on the drive"},
		{"parted", "cannot modify disk partitions — this could destroy all data on the drive"},
		{"sfdisk", "cannot modify disk partition tables — this could destroy all data on the drive"},
		{"wipefs", "cannot wipe filesystem signatures — this could make drives unreadable"},
		{"diskutil erasedisk", "cannot erase disks — this would destroy all data on the drive"},
		{"diskutil erasevolume", "cannot erase volumes — this would destroy all data on the volume"},
		{"format", "cannot format drives — this would destroy all data on the target"},
	}
	for _, fc := range formatCmds {
		if strings.HasPrefix(cmdLower, fc.pattern) || strings.Contains(cmdLower, " "+fc.pattern) {
			return fc.reason
		}
	}

	if strings.Contains(cmd, ":(){ :|:& };:") {
		return "fork bomb detected — this would crash the system"
	}

	if strings.Contains(cmdLower, "> /dev/") || strings.Contains(cmdLower, ">/dev/") {
		safe := []string{"/dev/null", "/dev/stdout", "/dev/stderr"}
		ok := false
		for _, d := range safe {
			if strings.Contains(cmdLower, "> "+d) || strings.Contains(cmdLower, ">"+d) {
				ok = true
				break
			}
		}
		if !ok {
			return "cannot write to device files — this could damage hardware or corrupt data"
		}
	}

	if strings.Contains(cmdLower, "rm ") || strings.HasPrefix(cmdLower, "rm\t") {
		if reason := hardBlockCommandTargets(cmd); reason != "" {
			return reason
		}
	}
	if strings.HasPrefix(cmdLower, "chmod ") || strings.HasPrefix(cmdLower, "chown ") {
		if reason := hardBlockCommandTargets(cmd); reason != "" {
			return reason
		}
	}

	return ""
}

func hardBlockCommandTargets(cmd string) string {
	parts := strings.Fields(cmd)
	for _, part := range parts[1:] {
		if strings.HasPrefix(part, "-") {
			continue
		}
		if len(part) <= 5 && !strings.Contains(part, "/") {
			continue // likely a chmod mode/owner argument, not a path
		}
		absPath, err := filepath.Abs(part)
		if err != nil {
			continue
		}
		if reason := hardBlockPath(absPath); reason != "" {
			return fmt.Sprintf("cannot target %q — %s", part, reason)
		}
	}
	return ""
}
