// Package credentials implements the credential indirection seam: the
// target list carries only credential_ref values, never plaintext. The
// real secret backend (vault, DPAPI, a secrets manager) is out of scope
// for this module; FileResolver is the minimal implementation that
// satisfies core.CredentialResolver for local/dev use -- an operator
// wiring this into a managed secret store only needs to provide their own
// implementation of the same interface.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sqlguardian/auditor/internal/core"
)

// FileResolver resolves a credential_ref to the value of an environment
// variable named by a fixed prefix, so no secret ever appears in a
// configuration file on disk.
type FileResolver struct {
	envPrefix string
}

// NewFileResolver builds a resolver that looks up credential_ref as
// envPrefix + upper(credential_ref).
func NewFileResolver(envPrefix string) *FileResolver {
	if envPrefix == "" {
		envPrefix = "SQLGUARDIAN_CRED_"
	}
	return &FileResolver{envPrefix: envPrefix}
}

var _ core.CredentialResolver = (*FileResolver)(nil)

// Resolve implements core.CredentialResolver.
func (r *FileResolver) Resolve(ctx context.Context, credentialRef string) (string, error) {
	if credentialRef == "" {
		return "", fmt.Errorf("%w: empty credential_ref", core.ErrConfigInvalid)
	}
	key := r.envPrefix + strings.ToUpper(sanitizeEnvKey(credentialRef))
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: credential_ref %q not found (expected env var %s)", core.ErrConfigInvalid, credentialRef, key)
	}
	return val, nil
}

func sanitizeEnvKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
