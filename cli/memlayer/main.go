package main

import (
	"os"

	memlayercmder "github.com/papercomputeco/memlayer/cmd/memlayer"
)

func main() {
	cmd := memlayercmder.NewMemlayerCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
