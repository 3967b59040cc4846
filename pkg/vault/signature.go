package vault

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// signedMessagePrefix is the standard message-signing prefix applied before
// recovery, binding signatures to this convention and nothing else.
const signedMessagePrefix = "\x19Ethereum Signed Message:\n32"

func keccak256(chunks ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// OrderMessageHash builds the canonical digest a party signs over one side
// of a trade. The nonce binds the signature to a single settlement.
func OrderMessageHash(orderID uint64, baseAsset, quoteAsset string, price, quantity *big.Int, side Side, timestamp int64, nonce uint64) [32]byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, orderID)
	writeString(&buf, baseAsset)
	writeString(&buf, quoteAsset)
	writeBig(&buf, price)
	writeBig(&buf, quantity)
	buf.WriteByte(byte(side))
	binary.Write(&buf, binary.BigEndian, timestamp)
	binary.Write(&buf, binary.BigEndian, nonce)
	return keccak256(buf.Bytes())
}

// TradeHash is the content-derived identifier of a settled trade. Two
// submissions with identical terms hash identically, which is what makes
// replay detection possible.
func TradeHash(party1, party2, baseAsset, quoteAsset string, price, quantity *big.Int, timestamp int64) [32]byte {
	var buf bytes.Buffer
	writeString(&buf, party1)
	writeString(&buf, party2)
	writeString(&buf, baseAsset)
	writeString(&buf, quoteAsset)
	writeBig(&buf, price)
	writeBig(&buf, quantity)
	binary.Write(&buf, binary.BigEndian, timestamp)
	return keccak256(buf.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func writeBig(buf *bytes.Buffer, v *big.Int) {
	var word [32]byte
	if v != nil {
		v.FillBytes(word[:])
	}
	buf.Write(word[:])
}

// signingHash applies the message-signing prefix to a canonical digest.
func signingHash(digest [32]byte) [32]byte {
	return keccak256([]byte(signedMessagePrefix), digest[:])
}

// RecoverSigner recovers the address that produced a 65-byte compact
// signature over digest (prefix applied here).
func RecoverSigner(digest [32]byte, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", ErrSignatureSize
	}
	prefixed := signingHash(digest)
	pub, _, err := secpecdsa.RecoverCompact(sig, prefixed[:])
	if err != nil {
		return "", err
	}
	return PubKeyAddress(pub), nil
}

// PubKeyAddress derives the ledger address of a public key: the last 20
// bytes of the Keccak-256 of its uncompressed encoding.
func PubKeyAddress(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	h := keccak256(raw[1:])
	return "0x" + hex.EncodeToString(h[12:])
}

// VerifySignature reports whether sig over the given order terms recovers
// to signer. Pure; never stores anything.
func VerifySignature(signer string, orderID uint64, baseAsset, quoteAsset string, price, quantity *big.Int, side Side, timestamp int64, nonce uint64, sig []byte) bool {
	digest := OrderMessageHash(orderID, baseAsset, quoteAsset, price, quantity, side, timestamp, nonce)
	recovered, err := RecoverSigner(digest, sig)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered, signer)
}

// SignOrder produces the compact signature a counterparty submits with its
// side of a trade. Used by clients and tests.
func SignOrder(key *secp256k1.PrivateKey, orderID uint64, baseAsset, quoteAsset string, price, quantity *big.Int, side Side, timestamp int64, nonce uint64) []byte {
	digest := OrderMessageHash(orderID, baseAsset, quoteAsset, price, quantity, side, timestamp, nonce)
	prefixed := signingHash(digest)
	return secpecdsa.SignCompact(key, prefixed[:], false)
}
