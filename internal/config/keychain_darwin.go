//go:build darwin

package config

import "os/exec"

// keychainExec reads one applyd secret (server token, OpenRouter key) from
// the login Keychain via the security CLI.
func keychainExec(service, account string) ([]byte, error) {
	return exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
}
