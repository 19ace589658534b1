// secrets-import loads a .env file into the encrypted secret store, so the
// plaintext file can be deleted from the host afterwards. The server reads
// missing env vars back out under the same env/<KEY> prefix.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/craftbot/gocraft/pkg/secretstore"
)

func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dir       = flag.String("secrets-dir", getenv("SECRETS_DIR", "data/secrets"), "secret store directory")
		secretKey = flag.String("key", getenv("SECRETS_ENCRYPTION_KEY", ""), "encryption key (32 bytes, base64 or hex)")
		prefix    = flag.String("prefix", "env/", "key prefix inside the store")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("encryption key is required: set SECRETS_ENCRYPTION_KEY or pass -key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(fmt.Errorf("read %s: %w", *inPath, err))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *dir, EncryptionKey: keyBytes})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	written := 0
	for k, v := range kv {
		if strings.TrimSpace(k) == "" {
			continue
		}
		if err := ss.SetString(*prefix+k, v); err != nil {
			fatal(err)
		}
		written++
	}
	fmt.Fprintf(os.Stderr, "imported %d keys into %s (prefix %s)\n", written, *dir, *prefix)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
