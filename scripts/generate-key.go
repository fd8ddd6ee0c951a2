// Package main is a development utility for generating a JWT signing secret.
// It prints a random secret and the export line to paste into a shell or env
// file so developers can quickly bring up a local server. Do not reuse
// generated secrets across environments — rotate the production secret through
// your secret manager.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	// 48 random bytes gives a 64-character base64url secret, comfortably above
	// the 32 characters the server recommends.
	randomBytes := make([]byte, 48)
	_, err := rand.Read(randomBytes)
	if err != nil {
		log.Fatal(err)
	}

	secret := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("==========================================================")
	fmt.Println("JWT Secret Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nSecret: %s\n", secret)
	fmt.Println("\n==========================================================")
	fmt.Println("Shell export:")
	fmt.Println("==========================================================")
	fmt.Printf("\nexport QMS_JWT_SECRET=%s\n", secret)
	fmt.Println("\n==========================================================")
}
