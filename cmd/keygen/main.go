package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/auth"
)

func main() {
	n := flag.Int("n", 1, "number of keys to generate")
	size := flag.Int("bytes", 32, "random bytes per key")
	flag.Parse()

	if *n < 1 || *size < 16 {
		fmt.Fprintln(os.Stderr, "Usage: go run ./cmd/keygen [-n count] [-bytes size>=16]")
		os.Exit(1)
	}

	keys := make([]string, 0, *n)
	for i := 0; i < *n; i++ {
		buf := make([]byte, *size)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		key := base64.RawURLEncoding.EncodeToString(buf)
		keys = append(keys, key)
		fmt.Printf("API Key: %s\n", key)
		fmt.Printf("Fingerprint: %s\n", auth.HashAPIKey(key)[:12])
	}

	fmt.Println("\nAdd this to your .env:")
	fmt.Printf("API_KEYS=%s\n", strings.Join(keys, ","))
}
