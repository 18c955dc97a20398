package orchestrator

import "strings"

// Error classes persisted on failed jobs. Classification is triage metadata
// for operators and dashboards; handler behavior never branches on it.
const (
	ErrClassCredential = "credential_error"
	ErrClassPermission = "permission_error"
	ErrClassQuota      = "quota_error"
	ErrClassGit        = "git_error"
	ErrClassNetwork    = "network_error"
	ErrClassValidation = "validation_error"
	ErrClassPulumi     = "pulumi_error"
	ErrClassUnknown    = "unknown_error"
)

// classificationRules are checked in order; the first class with a matching
// keyword wins. More specific causes come before the generic IaC bucket so a
// credential failure surfaced through engine output is not drowned in
// pulumi_error.
var classificationRules = []struct {
	class    string
	keywords []string
}{
	{ErrClassCredential, []string{
		"credential",
		"invalid authentication",
		"unauthenticated",
		"token expired",
		"expired token",
		"could not load default credentials",
		"no identity",
		"401",
	}},
	{ErrClassPermission, []string{
		"permission denied",
		"access denied",
		"forbidden",
		"not authorized",
		"unauthorized",
		"403",
	}},
	{ErrClassQuota, []string{
		"quota",
		"rate limit",
		"ratelimit",
		"limit exceeded",
		"too many requests",
		"429",
	}},
	{ErrClassGit, []string{
		"git",
		"clone",
		"couldn't find remote ref",
		"reference not found",
		"non-fast-forward",
		"repository not found",
	}},
	{ErrClassNetwork, []string{
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"network is unreachable",
		"tls handshake",
		"dial tcp",
		"timeout",
	}},
	{ErrClassValidation, []string{
		"validation",
		"invalid input",
		"missing required",
		"required configuration",
		"malformed",
		"unmarshal",
	}},
	{ErrClassPulumi, []string{
		"pulumi",
		"stack operation",
		"update failed",
		"preview failed",
		"resource",
		"plugin",
	}},
}

// ClassifyError maps a raw failure message to one coarse error class.
func ClassifyError(message string) string {
	lowered := strings.ToLower(message)

	for _, rule := range classificationRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lowered, keyword) {
				return rule.class
			}
		}
	}

	return ErrClassUnknown
}
