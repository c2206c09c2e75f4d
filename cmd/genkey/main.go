package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/technosupport/ts-license/internal/auth"
)

func main() {
	size := flag.Int("bytes", 32, "entropy in bytes (minimum 16)")
	flag.Parse()

	key, err := auth.GenerateKey(*size)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	hash, err := auth.HashSecret(key)
	if err != nil {
		log.Fatalf("hash key: %v", err)
	}

	fmt.Printf("API key (give to clients):   %s\n", key)
	fmt.Printf("auth.secret (server config): %s\n", hash)
}
