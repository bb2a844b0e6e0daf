package app

import "errors"

// ValidateSecurityConfig enforces Connexa's security policy at startup.
// Fail-fast is intentional: silently running with a weak session secret
// or insecure cookies in production is unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.TokenSecret == "" {
		return errors.New("security policy: CONNEXA_TOKEN_SECRET is required")
	}
	// Measured in bytes (not runes) because the key is used as raw bytes.
	if len(cfg.TokenSecret) < 32 {
		return errors.New("security policy: CONNEXA_TOKEN_SECRET is too short (min 32 bytes)")
	}

	if !cfg.RequireSecureConfig {
		return nil
	}

	if !cfg.SecureCookies {
		return errors.New("security policy: CONNEXA_REQUIRE_SECURE_CONFIG=true but CONNEXA_SECURE_COOKIES is off")
	}
	return nil
}
