package models

import (
	"log"

	"github.com/mmdatafocus/storefront_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Order{}, &OrderItem{},
		&UserProductAccess{},
		&OrderEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
