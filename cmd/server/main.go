package main

import (
	"github.com/abie0416/BiegeAI/internal/server"
	"github.com/abie0416/BiegeAI/internal/util"
	"github.com/abie0416/BiegeAI/pkg/logger"
	"github.com/abie0416/BiegeAI/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
