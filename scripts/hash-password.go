//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/openclaw/crm-sync-server/internal/util"
)

// Prints a bcrypt hash for ADMIN_PASSWORD_HASH.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go <password>\n")
		os.Exit(1)
	}

	password := os.Args[1]
	if len(password) < util.MinPasswordLength {
		fmt.Fprintf(os.Stderr, "Error: password must be at least %d characters\n", util.MinPasswordLength)
		os.Exit(1)
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
