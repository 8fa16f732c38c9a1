package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveCredential turns a credential reference into the secret it points to.
//
//	env:NAME   value of environment variable NAME
//	file:PATH  trimmed contents of the file at PATH
//	""         no credential
//
// Any other form is rejected so raw secrets never pass through config files.
func ResolveCredential(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("credential env var %s is not set", name)
		}
		return v, nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("credential file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported credential reference %q (want env: or file:)", redact(ref))
	}
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
