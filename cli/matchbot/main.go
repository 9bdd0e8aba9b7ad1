package main

import (
	"os"

	matchbotcmder "github.com/papercomputeco/matchbot/cmd/matchbot"
)

func main() {
	cmd := matchbotcmder.NewMatchbotCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
