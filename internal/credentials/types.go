package credentials

import (
	"context"
	"errors"
)

// Supported cloud providers
const (
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderAzure = "azure"
)

// ErrNoIdentity is returned when a provider requires credentials but no
// user identity is available to exchange. The broker must fail loudly here:
// falling back to ambient credentials would provision resources under the
// wrong principal.
var ErrNoIdentity = errors.New("no user identity available for credential exchange")

// Broker exchanges a platform-held identity for short-lived cloud
// credentials. Implementations must never persist what they return.
type Broker interface {
	Exchange(ctx context.Context, provider, userID string) (*Credentials, error)
}

// Credentials holds short-lived provider-native credentials. Exactly the
// fields for the requested provider are populated.
type Credentials struct {
	Provider string

	// AWS STS-style
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// GCP
	AccessToken string

	// Azure
	AzureToken string

	ExpiresInSeconds int
}

// Env renders the credentials as environment variables for the IaC engine's
// workspace. The caller scopes these to the engine invocation; shared
// process state is never mutated.
func (c *Credentials) Env() map[string]string {
	env := make(map[string]string)

	switch c.Provider {
	case ProviderAWS:
		env["AWS_ACCESS_KEY_ID"] = c.AccessKeyID
		env["AWS_SECRET_ACCESS_KEY"] = c.SecretAccessKey
		if c.SessionToken != "" {
			env["AWS_SESSION_TOKEN"] = c.SessionToken
		}
	case ProviderGCP:
		env["GOOGLE_OAUTH_ACCESS_TOKEN"] = c.AccessToken
	case ProviderAzure:
		env["ARM_OIDC_TOKEN"] = c.AzureToken
		env["ARM_USE_OIDC"] = "true"
	}

	return env
}
