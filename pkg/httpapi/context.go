package httpapi

import (
	"context"

	"github.com/fluxcode/transcoder/pkg/credential"
)

type ctxKey int

const credentialCtxKey ctxKey = iota

func withCredential(ctx context.Context, c *credential.Credential) context.Context {
	return context.WithValue(ctx, credentialCtxKey, c)
}

// credentialFromContext returns the authenticated credential for the
// request. Every route under authenticate() is guaranteed to have one.
func credentialFromContext(ctx context.Context) *credential.Credential {
	c, _ := ctx.Value(credentialCtxKey).(*credential.Credential)
	return c
}
