package exchange

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDecimalToWire(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{in: "1.23", out: "1.23"},
		{in: "0", out: "0"},
		{in: "1.23000000", out: "1.23"},
		{in: "100", out: "100"},
	}
	for _, tc := range cases {
		got, err := decimalToWire(dec(tc.in))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.in, err)
		}
		if got != tc.out {
			t.Fatalf("expected %s, got %s", tc.out, got)
		}
	}
	if _, err := decimalToWire(dec("1.234567891")); err == nil {
		t.Fatalf("expected rounding error")
	}
}

func TestNormalizePrice(t *testing.T) {
	cases := []struct {
		px         string
		szDecimals int
		spot       bool
		out        string
	}{
		{px: "123.456", szDecimals: 2, out: "123.46"},
		{px: "123456.7", szDecimals: 0, out: "123457"},
		{px: "0.00123456", szDecimals: 0, spot: true, out: "0.0012346"},
		{px: "1.234567", szDecimals: 4, out: "1.23"},
	}
	for _, tc := range cases {
		got := NormalizePrice(dec(tc.px), tc.szDecimals, tc.spot)
		if !got.Equal(dec(tc.out)) {
			t.Fatalf("normalize %s (sz=%d spot=%v): expected %s, got %s", tc.px, tc.szDecimals, tc.spot, tc.out, got)
		}
	}
}

func TestNewCloidShape(t *testing.T) {
	a, b := NewCloid(), NewCloid()
	if a == b {
		t.Fatalf("expected distinct cloids")
	}
	if !cloidPattern.MatchString(a) {
		t.Fatalf("invalid cloid %s", a)
	}
	if _, err := LimitOrderWire(1, true, dec("1"), dec("1"), false, TifGtc, "order-1"); err == nil {
		t.Fatalf("expected invalid cloid error")
	}
}

func TestEncodeOrderActionDeterministic(t *testing.T) {
	order, err := LimitOrderWire(1, true, dec("2.5"), dec("100.0"), false, TifIoc, "")
	if err != nil {
		t.Fatalf("unexpected order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	b1, err := encodeAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	b2, err := encodeAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected deterministic encoding")
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(b1, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded["type"] != "order" {
		t.Fatalf("unexpected action type")
	}
	orders, ok := decoded["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("expected 1 order")
	}
	orderMap, ok := orders[0].(map[string]any)
	if !ok {
		t.Fatalf("expected order map")
	}
	if orderMap["p"] != "100" {
		t.Fatalf("expected price 100, got %v", orderMap["p"])
	}
	if orderMap["s"] != "2.5" {
		t.Fatalf("expected size 2.5, got %v", orderMap["s"])
	}
}

func TestEncodeModifyAndCancelByCloid(t *testing.T) {
	cloid := NewCloid()
	order, err := LimitOrderWire(3, false, dec("2"), dec("99"), false, TifGtc, cloid)
	if err != nil {
		t.Fatalf("order wire: %v", err)
	}
	raw, err := encodeAction(ModifyAction{Type: "modify", Oid: cloid, Order: order})
	if err != nil {
		t.Fatalf("encode modify: %v", err)
	}
	var modify map[string]any
	if err := msgpack.Unmarshal(raw, &modify); err != nil {
		t.Fatalf("decode modify: %v", err)
	}
	if modify["type"] != "modify" || modify["oid"] != cloid {
		t.Fatalf("unexpected modify %v", modify)
	}
	inner, _ := modify["order"].(map[string]any)
	if inner["c"] != cloid || inner["p"] != "99" {
		t.Fatalf("unexpected modify order %v", inner)
	}
	if _, err := encodeAction(ModifyAction{Type: "modify", Oid: 1.5, Order: order}); err == nil {
		t.Fatalf("expected error for float oid")
	}

	raw, err = encodeAction(CancelByCloidAction{Type: "cancelByCloid", Cancels: []CancelByCloidWire{{Asset: 3, Cloid: cloid}}})
	if err != nil {
		t.Fatalf("encode cancel: %v", err)
	}
	var cancel map[string]any
	if err := msgpack.Unmarshal(raw, &cancel); err != nil {
		t.Fatalf("decode cancel: %v", err)
	}
	cancels, _ := cancel["cancels"].([]any)
	if len(cancels) != 1 {
		t.Fatalf("expected one cancel, got %v", cancel)
	}
	entry, _ := cancels[0].(map[string]any)
	if entry["cloid"] != cloid {
		t.Fatalf("unexpected cancel entry %v", entry)
	}
	if _, err := encodeAction(CancelByCloidAction{Type: "cancelByCloid"}); err == nil {
		t.Fatalf("expected error for empty cancels")
	}
}

func TestSignerRecover(t *testing.T) {
	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2", true)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	order, err := LimitOrderWire(1, true, dec("2.5"), dec("100"), false, TifIoc, "")
	if err != nil {
		t.Fatalf("order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	nonce := uint64(1700000000000)
	sig, err := signer.SignL1Action(action, nonce, nil)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	payload, err := encodeAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	digest, err := agentDigest(connectionID(payload, nonce, nil), true)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	sigBytes, err := signatureBytes(sig)
	if err != nil {
		t.Fatalf("signature bytes error: %v", err)
	}
	pubKey, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		t.Fatalf("recover error: %v", err)
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != signer.Address() {
		t.Fatalf("expected %s, got %s", signer.Address().Hex(), recovered.Hex())
	}
}

func TestConnectionIDCoversVault(t *testing.T) {
	payload := []byte{0x81, 0xa1, 0x61, 0x01}
	vault := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	plain := connectionID(payload, 42, nil)
	withVault := connectionID(payload, 42, &vault)
	if bytes.Equal(plain, withVault) {
		t.Fatalf("vault address must change the connection id")
	}
	if bytes.Equal(plain, connectionID(payload, 43, nil)) {
		t.Fatalf("nonce must change the connection id")
	}
	mainnet, err := agentDigest(plain, true)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	testnet, err := agentDigest(plain, false)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if bytes.Equal(mainnet, testnet) {
		t.Fatalf("mainnet and testnet digests must differ")
	}
}

func signatureBytes(sig Signature) ([]byte, error) {
	r, err := hexutil.Decode(sig.R)
	if err != nil {
		return nil, err
	}
	s, err := hexutil.Decode(sig.S)
	if err != nil {
		return nil, err
	}
	if len(r) != 32 || len(s) != 32 {
		return nil, errUnexpectedSigLen
	}
	v := sig.V - 27
	if v < 0 || v > 1 {
		return nil, errUnexpectedSigV
	}
	out := append(append([]byte{}, r...), s...)
	out = append(out, byte(v))
	return out, nil
}

var errUnexpectedSigLen = errors.New("unexpected signature length")
var errUnexpectedSigV = errors.New("unexpected signature v")
