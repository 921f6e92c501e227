package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// hlChainID is the chain id Hyperliquid uses for L1 action signatures.
const hlChainID = 1337

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Agent(string source,bytes32 connectionId)
	agentTypeHash = ethcrypto.Keccak256(
		[]byte("Agent(string source,bytes32 connectionId)"),
	)
)

// Signer signs exchange actions with a secp256k1 key. The action payload is
// hashed together with the nonce and vault address into a connection id and
// signed under the exchange's EIP-712 agent domain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
	source     string
}

// NewSigner creates a Signer from a hex-encoded private key. testnet selects
// the agent source the exchange expects for its test environment.
func NewSigner(privateKeyHex string, testnet bool) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: invalid private key: %w", err)
	}

	source := "a"
	if testnet {
		source = "b"
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		source:     source,
	}
	s.domainSep = buildDomainSeparator("Exchange", "1", hlChainID)
	return s, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAction hashes an exchange action with its nonce and optional vault
// address and returns the signature split into its wire components.
func (s *Signer) SignAction(action exchangeAction, nonce int64, vaultAddress string) (wireSignature, error) {
	connectionID, err := actionHash(action, nonce, vaultAddress)
	if err != nil {
		return wireSignature{}, err
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			agentTypeHash,
			ethcrypto.Keccak256([]byte(s.source)),
			connectionID,
		),
	)
	digest := eip712Hash(s.domainSep, structHash)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return wireSignature{}, fmt.Errorf("hyperliquid: sign action: %w", err)
	}
	// go-ethereum returns v in {0,1}; the exchange expects {27,28}.
	v := int(sig[64])
	if v < 27 {
		v += 27
	}
	return wireSignature{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: v,
	}, nil
}

// actionHash derives the connection id binding the action payload to its
// nonce and vault address.
func actionHash(action exchangeAction, nonce int64, vaultAddress string) ([]byte, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: encode action: %w", err)
	}

	data := append(payload, bigIntTo32Bytes(big.NewInt(nonce))...)
	if vaultAddress == "" {
		data = append(data, 0x00)
	} else {
		data = append(data, 0x01)
		data = append(data, common.HexToAddress(vaultAddress).Bytes()...)
	}
	return ethcrypto.Keccak256(data), nil
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash,
// versionHash, chainId, verifyingContract)).
func buildDomainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
			common.LeftPadBytes(common.Address{}.Bytes(), 32),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

func concatBytes(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
