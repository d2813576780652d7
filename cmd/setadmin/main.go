package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/database"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/env"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	revoke := len(os.Args) > 2 && os.Args[2] == "--revoke"

	shop, ok := shopify.NormalizeShopDomain(os.Args[1])
	if !ok {
		log.Fatalf("%q is not a myshopify.com domain", os.Args[1])
	}

	db, err := database.Acquire()
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	defer func() {
		if err := database.Release(); err != nil {
			log.Printf("Database release error: %v", err)
		}
	}()

	shops := repository.NewShopRepository(db)
	err = shops.SetAdmin(shop, !revoke)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Shop %s is not installed.", shop)
		listShops(shops)
		return
	}
	if err != nil {
		log.Fatalf("Could not update %s: %v", shop, err)
	}

	if revoke {
		log.Printf("Admin access revoked for %s", shop)
	} else {
		log.Printf("Admin access granted to %s", shop)
	}
}

func listShops(shops repository.ShopRepository) {
	all, err := shops.List()
	if err != nil {
		log.Printf("Could not list shops: %v", err)
		return
	}
	if len(all) == 0 {
		fmt.Println("No shops have installed the app yet.")
		return
	}
	fmt.Println("Installed shops:")
	for _, s := range all {
		marker := ""
		if s.IsAdmin {
			marker = " (admin)"
		}
		fmt.Printf("  %s%s\n", s.Shop, marker)
	}
}

func printUsage() {
	fmt.Println("Usage: go run ./cmd/setadmin <shop>.myshopify.com [--revoke]")
}
