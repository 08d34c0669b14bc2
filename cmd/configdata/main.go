// Command configdata resolves layered configuration with remote imports.
package main

import "github.com/nimburion/configdata/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        "configdata",
		Description: "Resolve layered configuration from local files, environment and remote imports",
		ConfigPath:  "",
	}))
}
