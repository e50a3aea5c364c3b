package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-cart/session"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("CARTD_JWT_SECRET", "dev-secret")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--account", "acct-42", "--ttl", "1h"})
	require.NoError(t, root.Execute())

	account, err := session.VerifyToken([]byte("dev-secret"), strings.TrimSpace(out.String()), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "acct-42", account)
}

func TestTokenCommandNeedsAccount(t *testing.T) {
	t.Setenv("CARTD_JWT_SECRET", "dev-secret")

	root := newRootCmd()
	root.SetArgs([]string{"token"})
	assert.Error(t, root.Execute())
}

func TestServeNeedsSecret(t *testing.T) {
	t.Setenv("CARTD_JWT_SECRET", "")

	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	assert.ErrorContains(t, root.Execute(), "CARTD_JWT_SECRET")
}
