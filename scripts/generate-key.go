// Package main is a development utility for generating a random JWT signing
// secret suitable for PHS_JWT_SECRET. It prints the base64url-encoded secret
// and a ready-to-paste export line so developers can quickly configure local
// service-token auth without inventing secrets by hand. Production secrets
// should come from a secret manager, not from this script's output pasted
// into a shell history.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	randomBytes := make([]byte, 48)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}

	secret := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("Generated JWT signing secret:")
	fmt.Printf("  %s\n\n", secret)
	fmt.Println("Development shell setup:")
	fmt.Printf("  export PHS_JWT_SECRET=%s\n", secret)
}
