package paymaster

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// secp256k1HalfN is the malleability bound on the s component.
var secp256k1HalfN, _ = new(big.Int).SetString("7fffffffffffffffffffffffffffffff5d576e7357a4501ddfe92f46681b20a0", 16)

// RecoverSigner recovers the address that signed hash as a personal message
// ("\x19Ethereum Signed Message:\n32" || hash). Structurally invalid signatures,
// including raw recovery ids 0 and 1, are hard reverts.
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrInvalidSignatureLength
	}

	r := new(big.Int).SetBytes(sig[0:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if s.Cmp(secp256k1HalfN) > 0 {
		return common.Address{}, ErrInvalidSignatureS
	}

	// Only 27 and 28 recover on chain.
	if sig[64] != 27 && sig[64] != 28 {
		return common.Address{}, ErrInvalidSignature
	}
	v := sig[64] - 27
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, ErrInvalidSignature
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	normalized[64] = v

	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), normalized)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verifier checks signatures against the single trusted authority.
type Verifier struct {
	authority common.Address
}

func NewVerifier(authority common.Address) *Verifier {
	return &Verifier{authority: authority}
}

func (v *Verifier) Authority() common.Address {
	return v.authority
}

// Verify reports sigFailed=true when a well-formed signature was produced by
// any key other than the authority. Only malformed signatures return an error.
func (v *Verifier) Verify(hash common.Hash, sig []byte) (sigFailed bool, err error) {
	signer, err := RecoverSigner(hash, sig)
	if err != nil {
		return false, err
	}
	return signer != v.authority, nil
}

// Signer is the off-chain authority's side: it signs binding hashes.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSignerFromHex parses a hex private key, with or without 0x prefix.
func NewSignerFromHex(privateKeyHex string) (*Signer, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewSigner(key), nil
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignHash signs hash as a personal message and returns r || s || v with
// v in {27, 28}.
func (s *Signer) SignHash(hash common.Hash) ([]byte, error) {
	return s.SignMessage(hash.Bytes())
}

// SignMessage signs arbitrary bytes with the personal message prefix.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
