// Package main generates a wallet keypair for the engine. Without -out the
// base58 secret is printed for the WALLET_PRIVATE_KEY environment source;
// with -out it is written in solana-keygen's JSON format for the file
// source.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mr-tron/base58"

	"solana-mirror-engine/internal/signer"
)

func main() {
	out := flag.String("out", "", "Write the keypair to this path instead of printing the secret")
	flag.Parse()

	kp, err := signer.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate keypair: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("public key: %s\n", kp.PublicKey)

	if *out != "" {
		if err := kp.WriteFile(*out); err != nil {
			fmt.Fprintf(os.Stderr, "write keypair: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("keypair written to %s\n", *out)
		return
	}

	fmt.Printf("secret key: %s\n", base58.Encode(kp.PrivateKey))
}
