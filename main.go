package main

import (
	"os"

	"github.com/homelan/dlnaserve/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
