package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/crateio/carrier/internal/vault"
)

func cmdCreds(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: carrier creds <list|set|delete> [account]")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "list":
		accounts, err := v.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error listing credentials: %v\n", err)
			os.Exit(1)
		}
		if len(accounts) == 0 {
			fmt.Println("No credentials stored")
			return
		}
		for _, a := range accounts {
			fmt.Printf("  %s: ****\n", a)
		}

	case "set":
		account := "warehouse"
		if len(args) > 1 {
			account = strings.ToLower(args[1])
		}
		fmt.Printf("Enter secret for %s: ", account)
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading secret: %v\n", err)
			os.Exit(1)
		}
		if err := v.Set(account, string(secret)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret for %s stored successfully\n", account)

	case "delete":
		account := "warehouse"
		if len(args) > 1 {
			account = strings.ToLower(args[1])
		}
		if err := v.Delete(account); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret for %s deleted\n", account)

	default:
		fmt.Fprintf(os.Stderr, "unknown creds command: %s\n", args[0])
		os.Exit(1)
	}
}
