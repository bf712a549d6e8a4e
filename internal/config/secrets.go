package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables holding API credentials. Each also accepts a *_FILE
// variant naming a file with the value.
const (
	EnvAdminUser    = "DIALOGUE_ADMIN_USER"
	EnvAdminPass    = "DIALOGUE_ADMIN_PASS"
	EnvOperatorUser = "DIALOGUE_OPERATOR_USER"
	EnvOperatorPass = "DIALOGUE_OPERATOR_PASS"
)

// ResolveSecret reads envName, preferring the file named by envName+"_FILE".
// It returns an empty string when neither is set.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			// never include the content
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// Credentials are the basic-auth accounts for the control API.
type Credentials struct {
	AdminUser    string
	AdminPass    string
	OperatorUser string
	OperatorPass string
}

// AuthEnabled reports whether at least one complete account is configured.
func (c Credentials) AuthEnabled() bool {
	return (c.AdminUser != "" && c.AdminPass != "") || (c.OperatorUser != "" && c.OperatorPass != "")
}

// LoadCredentials resolves all API credentials. A user without a password
// (or the reverse) is an error.
func LoadCredentials() (Credentials, error) {
	var c Credentials
	for _, s := range []struct {
		env string
		dst *string
	}{
		{EnvAdminUser, &c.AdminUser},
		{EnvAdminPass, &c.AdminPass},
		{EnvOperatorUser, &c.OperatorUser},
		{EnvOperatorPass, &c.OperatorPass},
	} {
		v, err := ResolveSecret(s.env)
		if err != nil {
			return Credentials{}, err
		}
		*s.dst = v
	}

	if (c.AdminUser == "") != (c.AdminPass == "") {
		return Credentials{}, fmt.Errorf("%s and %s must be set together", EnvAdminUser, EnvAdminPass)
	}
	if (c.OperatorUser == "") != (c.OperatorPass == "") {
		return Credentials{}, fmt.Errorf("%s and %s must be set together", EnvOperatorUser, EnvOperatorPass)
	}
	return c, nil
}
