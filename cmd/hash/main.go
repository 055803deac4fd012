// Package main is a utility for bcrypt-hashing an existing operator token.
// The server stores only the bcrypt hash of the static operator token, never
// the raw value, so this tool is used when an operator already holds a token
// and needs the matching PHS_AUTH_API_TOKEN_HASH value. To mint a fresh token
// and hash in one step use `phi-sentinel token` instead.
package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <token>", os.Args[0])
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), 12)
	if err != nil {
		log.Fatalf("Failed to hash token: %v", err)
	}
	fmt.Println(string(hash))
}
