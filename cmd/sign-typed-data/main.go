package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/tegro-connector/pkg/crypto"
)

// sign-typed-data signs an eth_signTypedData_v4 document, e.g. the sign_data
// returned by the exchange's typed data endpoints, and verifies the result.
//
//	TEGRO_PRIVATE_KEY=0x... sign-typed-data -in order.json
func main() {
	in := flag.String("in", "-", "typed data JSON file, - for stdin")
	generate := flag.Bool("generate", false, "sign with a fresh random key")
	flag.Parse()

	// Step 1: Load or generate key
	var signer *crypto.Signer
	var err error
	if *generate {
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		}
	} else {
		key := os.Getenv("TEGRO_PRIVATE_KEY")
		if key == "" {
			fail("TEGRO_PRIVATE_KEY is not set (or pass -generate)")
		}
		signer, err = crypto.FromPrivateKeyHex(key)
	}
	if err != nil {
		fail("key: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())

	// Step 2: Read typed data
	raw, err := readInput(*in)
	if err != nil {
		fail("read %s: %v", *in, err)
	}

	// Step 3: Sign
	signature, err := signer.SignTypedDataJSON(raw)
	if err != nil {
		fail("sign: %v", err)
	}

	// Step 4: Verify signature
	var doc struct {
		Types       apitypes.Types         `json:"types"`
		PrimaryType string                 `json:"primaryType"`
		Domain      map[string]interface{} `json:"domain"`
		Message     map[string]interface{} `json:"message"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		fail("decode: %v", err)
	}
	typedData, err := crypto.BuildTypedData(doc.Domain, doc.Types, doc.PrimaryType, doc.Message)
	if err != nil {
		fail("typed data: %v", err)
	}
	recovered, err := crypto.RecoverTypedDataSigner(typedData, signature)
	if err != nil {
		fail("verify: %v", err)
	}
	if recovered != signer.Address().Hex() {
		fail("signature recovers %s, want %s", recovered, signer.Address().Hex())
	}

	out, _ := json.MarshalIndent(map[string]string{
		"address":   signer.Address().Hex(),
		"signature": signature,
	}, "", "  ")
	fmt.Println(string(out))
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
