// Package configdata resolves layered application configuration from local
// sources and remote secret stores.
//
// Import directives such as "vault:secret/config-location" or
// "optional:redis:app:config" are parsed into Locators, fetched through a
// Fetcher holding one Backend per scheme, flattened into PropertySources and
// stacked with the local layers. The resulting Environment answers reads from
// the first source that holds a key.
//
//	fetcher := configdata.NewFetcher(configdata.WithBackend("vault", vaultBackend))
//	resolver := configdata.NewResolver(fetcher)
//	env, err := resolver.Resolve(ctx, []string{"vault:secret/config-location"}, layers)
//	if err != nil {
//	    return err // nothing was published
//	}
//	value, _ := env.GetProperty("vault-key")
//
// Resolution is all-or-nothing. Refresh rebuilds the stack from the same
// inputs and swaps it in atomically, so a read never mixes generations.
package configdata
