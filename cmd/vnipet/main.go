package main

import (
	"fmt"
	"os"

	paseto "aidanwoods.dev/go-paseto"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/app"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "keygen" {
		keygen()
		return
	}
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}

// keygen prints a fresh access token signing key pair in env form.
func keygen() {
	sk := paseto.NewV4AsymmetricSecretKey()
	fmt.Printf("VNIPET_PASETO_V4_SECRET_KEY_HEX=%s\n", sk.ExportHex())
	fmt.Printf("# public key, for VNIPET_PASETO_V4_PREVIOUS_PUBLIC_KEYS_HEX after rotation\n%s\n", sk.Public().ExportHex())
}
