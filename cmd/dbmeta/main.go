package main

import (
	"os"

	_ "dbmeta/internal/generic"
	"dbmeta/internal/logger"
	_ "dbmeta/internal/mssql"
)

func main() {
	if err := newRootCommand(&app{}).Execute(); err != nil {
		logger.Error("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
