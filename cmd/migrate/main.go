package main

import (
	"fmt"
	"os"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
)

// migrate runs schema migrations as a standalone job. Run this before a
// deploy with SKIP_MIGRATIONS=true so DDL never blocks live traffic.
func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	models.MigrateTable()
	fmt.Println("migrations complete")
}
