package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func mailTypes() apitypes.Types {
	return apitypes.Types{
		"Person": {
			{Name: "name", Type: "string"},
			{Name: "wallet", Type: "address"},
		},
		"Mail": {
			{Name: "from", Type: "Person"},
			{Name: "to", Type: "Person"},
			{Name: "contents", Type: "string"},
		},
	}
}

func mailDomain() map[string]interface{} {
	return map[string]interface{}{
		"name":              "Ether Mail",
		"version":           "1",
		"chainId":           float64(1),
		"verifyingContract": "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC",
	}
}

func mailMessage() map[string]interface{} {
	return map[string]interface{}{
		"from": map[string]interface{}{
			"name":   "Cow",
			"wallet": "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826",
		},
		"to": map[string]interface{}{
			"name":   "Bob",
			"wallet": "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB",
		},
		"contents": "Hello, Bob!",
	}
}

func TestHashTypedDataReferenceVector(t *testing.T) {
	td, err := BuildTypedData(mailDomain(), mailTypes(), "Mail", mailMessage())
	if err != nil {
		t.Fatalf("BuildTypedData: %v", err)
	}
	if got := len(td.Types["EIP712Domain"]); got != 4 {
		t.Fatalf("derived EIP712Domain has %d fields, want 4", got)
	}
	digest, err := HashTypedData(td)
	if err != nil {
		t.Fatalf("HashTypedData: %v", err)
	}
	const want = "0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2"
	if got := hexutil.Encode(digest); got != want {
		t.Errorf("digest = %s, want %s", got, want)
	}
}

func TestSignTypedDataRecovers(t *testing.T) {
	signer, err := FromPrivateKeyHex(cowKey)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := signer.SignTypedData(mailDomain(), mailTypes(), "Mail", mailMessage())
	if err != nil {
		t.Fatalf("SignTypedData: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+130 {
		t.Fatalf("signature %q is not 0x-prefixed 65 bytes", sig)
	}
	raw, _ := hexutil.Decode(sig)
	if raw[64] != 27 && raw[64] != 28 {
		t.Errorf("V = %d, want 27 or 28", raw[64])
	}

	td, _ := BuildTypedData(mailDomain(), mailTypes(), "Mail", mailMessage())
	addr, err := RecoverTypedDataSigner(td, sig)
	if err != nil {
		t.Fatalf("RecoverTypedDataSigner: %v", err)
	}
	if addr != signer.Address().Hex() {
		t.Errorf("recovered %s, want %s", addr, signer.Address().Hex())
	}
}

func TestSignTypedDataJSONMatchesMapForm(t *testing.T) {
	signer, _ := FromPrivateKeyHex(cowKey)
	doc := `{
		"types": {
			"Person": [{"name":"name","type":"string"},{"name":"wallet","type":"address"}],
			"Mail": [{"name":"from","type":"Person"},{"name":"to","type":"Person"},{"name":"contents","type":"string"}]
		},
		"primaryType": "Mail",
		"domain": {"name":"Ether Mail","version":"1","chainId":1,"verifyingContract":"0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"},
		"message": {
			"from": {"name":"Cow","wallet":"0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826"},
			"to": {"name":"Bob","wallet":"0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"},
			"contents": "Hello, Bob!"
		}
	}`
	fromJSON, err := signer.SignTypedDataJSON([]byte(doc))
	if err != nil {
		t.Fatalf("SignTypedDataJSON: %v", err)
	}
	fromMap, _ := signer.SignTypedData(mailDomain(), mailTypes(), "Mail", mailMessage())
	// RFC 6979 nonces make secp256k1 signatures deterministic.
	if fromJSON != fromMap {
		t.Errorf("json form %s != map form %s", fromJSON, fromMap)
	}
}

func TestSignTypedDataRejectsMalformed(t *testing.T) {
	signer, _ := GenerateKey()
	tests := []struct {
		name    string
		domain  map[string]interface{}
		primary string
		message map[string]interface{}
	}{
		{"missing primary type", mailDomain(), "Order", mailMessage()},
		{"empty domain", nil, "Mail", mailMessage()},
		{"empty message", mailDomain(), "Mail", nil},
		{"bad chain id", map[string]interface{}{"name": "x", "chainId": "abc"}, "Mail", mailMessage()},
	}
	for _, tt := range tests {
		if _, err := signer.SignTypedData(tt.domain, mailTypes(), tt.primary, tt.message); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
