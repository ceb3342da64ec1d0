package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"videogateway/internal/middleware"
)

// passhash prints the digest clients send in x-password-hash.
func main() {
	var (
		passwordFlag string
		stdinFlag    bool
	)
	flag.StringVar(&passwordFlag, "password", "", "password to hash (fallbacks to APP_PASSWORD)")
	flag.BoolVar(&stdinFlag, "stdin", false, "read the password from the first line of stdin")
	flag.Parse()

	_ = godotenv.Load()

	password := passwordFlag
	if stdinFlag {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "failed to read password: %v\n", err)
			os.Exit(1)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		password = os.Getenv("APP_PASSWORD")
	}
	if strings.TrimSpace(password) == "" {
		fmt.Fprintln(os.Stderr, "password is required via -password, -stdin or APP_PASSWORD")
		os.Exit(1)
	}

	fmt.Println(middleware.HashPassword(password))
}
