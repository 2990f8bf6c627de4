package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Field order of the EIP712Domain struct when the payload does not define it.
var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
	{Name: "salt", Type: "bytes32"},
}

// BuildTypedData assembles an apitypes.TypedData from the loosely typed
// domain/types/message triple an exchange hands out for signing.
func BuildTypedData(domain map[string]interface{}, types apitypes.Types, primaryType string, message map[string]interface{}) (apitypes.TypedData, error) {
	if _, ok := types[primaryType]; !ok {
		return apitypes.TypedData{}, fmt.Errorf("typed data has no %q type", primaryType)
	}
	if len(message) == 0 {
		return apitypes.TypedData{}, fmt.Errorf("typed data has empty message")
	}

	d, err := parseDomain(domain)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	all := make(apitypes.Types, len(types)+1)
	for name, fields := range types {
		all[name] = fields
	}
	if _, ok := all["EIP712Domain"]; !ok {
		present := d.Map()
		var fields []apitypes.Type
		for _, f := range domainFields {
			if _, ok := present[f.Name]; ok {
				fields = append(fields, f)
			}
		}
		all["EIP712Domain"] = fields
	}

	return apitypes.TypedData{
		Types:       all,
		PrimaryType: primaryType,
		Domain:      d,
		Message:     normalize(message).(map[string]interface{}),
	}, nil
}

// HashTypedData returns keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func HashTypedData(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignTypedData signs exchange-defined typed data and returns the 0x-prefixed
// 65-byte signature with V in {27, 28}.
func (s *Signer) SignTypedData(domain map[string]interface{}, types apitypes.Types, primaryType string, message map[string]interface{}) (string, error) {
	if s == nil || s.privateKey == nil {
		return "", ErrNoKey
	}
	typedData, err := BuildTypedData(domain, types, primaryType, message)
	if err != nil {
		return "", err
	}
	return s.signTypedData(typedData)
}

// SignTypedDataJSON signs an eth_signTypedData_v4 JSON document.
func (s *Signer) SignTypedDataJSON(raw []byte) (string, error) {
	var doc struct {
		Types       apitypes.Types         `json:"types"`
		PrimaryType string                 `json:"primaryType"`
		Domain      map[string]interface{} `json:"domain"`
		Message     map[string]interface{} `json:"message"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode typed data: %w", err)
	}
	return s.SignTypedData(doc.Domain, doc.Types, doc.PrimaryType, doc.Message)
}

func (s *Signer) signTypedData(typedData apitypes.TypedData) (string, error) {
	digest, err := HashTypedData(typedData)
	if err != nil {
		return "", err
	}
	sig, err := s.Sign(digest)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// RecoverTypedDataSigner returns the address that produced signatureHex over typedData.
func RecoverTypedDataSigner(typedData apitypes.TypedData, signatureHex string) (string, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	digest, err := HashTypedData(typedData)
	if err != nil {
		return "", err
	}
	addr, err := RecoverAddress(digest, sig)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

func parseDomain(raw map[string]interface{}) (apitypes.TypedDataDomain, error) {
	var d apitypes.TypedDataDomain
	if len(raw) == 0 {
		return d, fmt.Errorf("typed data has empty domain")
	}
	for key, v := range raw {
		switch key {
		case "name":
			d.Name = fmt.Sprint(v)
		case "version":
			d.Version = fmt.Sprint(v)
		case "verifyingContract":
			d.VerifyingContract = fmt.Sprint(v)
		case "salt":
			d.Salt = fmt.Sprint(v)
		case "chainId":
			id, err := parseBig(v)
			if err != nil {
				return d, fmt.Errorf("invalid chainId: %w", err)
			}
			d.ChainId = (*math.HexOrDecimal256)(id)
		}
	}
	return d, nil
}

func parseBig(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case json.Number:
		return parseBigString(n.String())
	case string:
		return parseBigString(n)
	case float64:
		return big.NewInt(int64(n)), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case *big.Int:
		return n, nil
	}
	return nil, fmt.Errorf("unsupported integer %T", v)
}

func parseBigString(s string) (*big.Int, error) {
	if id, ok := math.ParseBig256(s); ok {
		return id, nil
	}
	return nil, fmt.Errorf("not an integer: %q", s)
}

// normalize rewrites json.Number and integral floats to decimal strings, the
// form apitypes encodes losslessly for every integer width.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case json.Number:
		return x.String()
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return x
	}
	return v
}
