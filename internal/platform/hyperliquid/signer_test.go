package hyperliquid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignerDerivesAddress(t *testing.T) {
	signer, err := NewSigner(testPrivateKey, false)
	require.NoError(t, err)

	// Address derived from the well-known test key.
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", signer.Address().Hex())

	withPrefix, err := NewSigner("0x"+testPrivateKey, false)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), withPrefix.Address())
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-a-key", false)
	require.Error(t, err)
}

func TestSignActionWireFormat(t *testing.T) {
	signer, err := NewSigner(testPrivateKey, false)
	require.NoError(t, err)

	action := exchangeAction{Type: "createSubAccount", Name: "hedge-test"}
	sig, err := signer.SignAction(action, 1756300000000, "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sig.R, "0x"))
	assert.Len(t, sig.R, 66)
	assert.True(t, strings.HasPrefix(sig.S, "0x"))
	assert.Len(t, sig.S, 66)
	assert.Contains(t, []int{27, 28}, sig.V)
}

func TestSignActionIsDeterministic(t *testing.T) {
	signer, err := NewSigner(testPrivateKey, false)
	require.NoError(t, err)

	action := exchangeAction{Type: "createSubAccount", Name: "hedge-test"}
	first, err := signer.SignAction(action, 1756300000000, "")
	require.NoError(t, err)
	second, err := signer.SignAction(action, 1756300000000, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSignActionBindsNonceAndVault(t *testing.T) {
	signer, err := NewSigner(testPrivateKey, false)
	require.NoError(t, err)

	action := exchangeAction{Type: "createSubAccount", Name: "hedge-test"}
	base, err := signer.SignAction(action, 1756300000000, "")
	require.NoError(t, err)

	otherNonce, err := signer.SignAction(action, 1756300000001, "")
	require.NoError(t, err)
	assert.NotEqual(t, base.R, otherNonce.R)

	withVault, err := signer.SignAction(action, 1756300000000, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	require.NoError(t, err)
	assert.NotEqual(t, base.R, withVault.R)
}

func TestSignActionTestnetSourceDiffers(t *testing.T) {
	mainnet, err := NewSigner(testPrivateKey, false)
	require.NoError(t, err)
	testnet, err := NewSigner(testPrivateKey, true)
	require.NoError(t, err)

	action := exchangeAction{Type: "createSubAccount", Name: "hedge-test"}
	a, err := mainnet.SignAction(action, 1756300000000, "")
	require.NoError(t, err)
	b, err := testnet.SignAction(action, 1756300000000, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.R, b.R)
}
