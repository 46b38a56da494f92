package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/gagliardetto/solana-go"
)

// Generates a wallet key for local runs. With -out the key is also written
// as a solana-keygen JSON file that WALLET_PRIVATE_KEY can point to.
func main() {
	out := flag.String("out", "", "write the key to this keygen file")
	flag.Parse()

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		log.Fatalln("generate key err: ", err.Error())
	}

	log.Println("Wallet address:", key.PublicKey().String())
	log.Println("Private key (base58):", key.String())

	if *out == "" {
		return
	}

	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		log.Fatalln("encode key err: ", err.Error())
	}

	if err := os.WriteFile(*out, data, 0o600); err != nil {
		log.Fatalln("write key err: ", err.Error())
	}

	log.Println("Keygen file:", *out)
}
