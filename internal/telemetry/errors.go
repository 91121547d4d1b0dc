package telemetry

// This file defines error message templates for common failure scenarios.
// Templates provide consistent, actionable error messages with
// troubleshooting steps.
//
// Each template includes:
//   - Clear description of the error
//   - Explanation of common causes
//   - Step-by-step troubleshooting instructions
//   - Relevant context (URL, status code, etc.)

// Error message templates for common scenarios
const (
	// ErrAuthenticationFailedTemplate is returned when the CommServe rejects
	// the configured credentials or token.
	ErrAuthenticationFailedTemplate = `Authentication against the CommServe failed: %v

This usually indicates:
1. Wrong username or password (check 'auth' in config.yaml or COMMCELL_AUTH_* variables)
2. An expired or revoked authentication token
3. The account is locked or disabled on the CommServe

Troubleshooting steps:
1. Verify the credentials by logging into the Command Center web console
2. If a token is configured, remove it to fall back to username/password login
3. Check the CommServe audit log for rejected login attempts

CommServe URL: %s`

	// ErrConnectionFailedTemplate is returned when the CommServe cannot be
	// reached or answers with something other than the REST API.
	ErrConnectionFailedTemplate = `Failed to connect to the CommServe: %v

This usually indicates:
1. Wrong host, port or base path (check 'server' in config.yaml)
2. The web server role is not running on the CommServe
3. A TLS certificate problem (set insecureSkipVerify only for lab setups)

CommServe URL: %s`
)
