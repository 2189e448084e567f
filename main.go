package main

import "github.com/deploymenttheory/go-apfs/cmd"

func main() {
	cmd.Execute()
}
