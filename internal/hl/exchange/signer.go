package exchange

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

// agentTypes is the phantom-agent schema L1 actions are signed under.
var agentTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Agent": {
		{Name: "source", Type: "string"},
		{Name: "connectionId", Type: "bytes32"},
	},
}

var agentDomain = apitypes.TypedDataDomain{
	Name:              "Exchange",
	Version:           "1",
	ChainId:           math.NewHexOrDecimal256(1337),
	VerifyingContract: common.Address{}.Hex(),
}

type Signer struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	isMainnet bool
}

func NewSigner(hexKey string, isMainnet bool) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey), isMainnet: isMainnet}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignL1Action signs keccak(msgpack(action) || nonce || vault flag [|| vault])
// as the connectionId of an Agent message.
func (s *Signer) SignL1Action(action msgpack.CustomEncoder, nonce uint64, vault *common.Address) (Signature, error) {
	payload, err := encodeAction(action)
	if err != nil {
		return Signature{}, err
	}
	digest, err := agentDigest(connectionID(payload, nonce, vault), s.isMainnet)
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, err
	}
	return signatureFromBytes(sig)
}

func connectionID(payload []byte, nonce uint64, vault *common.Address) []byte {
	buf := make([]byte, 0, len(payload)+8+1+common.AddressLength)
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	if vault == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = append(buf, vault.Bytes()...)
	}
	return crypto.Keccak256(buf)
}

func agentDigest(connID []byte, isMainnet bool) ([]byte, error) {
	source := "b"
	if isMainnet {
		source = "a"
	}
	digest, _, err := apitypes.TypedDataAndHash(apitypes.TypedData{
		Types:       agentTypes,
		PrimaryType: "Agent",
		Domain:      agentDomain,
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": hexutil.Encode(connID),
		},
	})
	return digest, err
}

func signatureFromBytes(sig []byte) (Signature, error) {
	if len(sig) != crypto.SignatureLength {
		return Signature{}, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}
