package main

import (
	driver "github.com/siphon-data/siphon/drivers/mysql/internal"
	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/protocol"
)

func main() {
	driver.Register()

	if err := protocol.CreateRootCommand().Execute(); err != nil {
		logger.Fatal(err)
	}
}
