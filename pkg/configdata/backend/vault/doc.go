// Package vault serves configuration imports from HashiCorp Vault KV secrets
// engines.
//
// A locator path is a logical KV path including its mount, for example
// "secret/config-location". The engine version of the mount is detected
// through sys/internal/ui/mounts unless configured explicitly, and KV v2
// envelopes are unwrapped so only the secret's data is returned.
//
// Authentication uses a static token or AppRole credentials:
//
//	backend, err := vault.New(ctx, vault.Config{
//	    Address: "https://vault.example.com:8200",
//	    Token:   os.Getenv("VAULT_TOKEN"),
//	})
//
// Environment variables understood by the Vault client (VAULT_ADDR,
// VAULT_TOKEN, VAULT_NAMESPACE, VAULT_CACERT) apply when the matching
// Config field is empty.
package vault
