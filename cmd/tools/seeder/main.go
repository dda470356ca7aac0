package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pedilo-api/internal/auth"
	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/promotion"
	"github.com/noah-isme/pedilo-api/internal/store"
)

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	password := os.Getenv("SEED_MERCHANT_PASSWORD")
	if password == "" {
		password = "pedilo123"
	}

	if err := store.Migrate(dbURL); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := store.Open(ctx, dbURL, store.Options{MaxConns: 2})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	minOrder := money(3000)
	merchants := []merchant.Merchant{
		{ID: "mrc-tacos", Slug: "tacos-don-pepe", Name: "Tacos Don Pepe", BusinessType: merchant.BusinessRestaurant, MinOrderAmount: &minOrder, Timezone: "America/Mexico_City", PasswordHash: hash, Active: true},
		{ID: "mrc-almacen", Slug: "almacen-central", Name: "Almacén Central", BusinessType: merchant.BusinessWholesale, Timezone: "America/Argentina/Buenos_Aires", PasswordHash: hash, Active: true},
	}
	for _, m := range merchants {
		if _, err := db.UpsertMerchant(ctx, m); err != nil {
			log.Fatalf("seed merchant %s: %v", m.Slug, err)
		}
		log.Printf("merchant %s ready", m.Slug)
	}

	seedCatalog(ctx, db)
	seedPromotions(ctx, db)

	log.Println("seeding completed")
}

func seedCatalog(ctx context.Context, db *store.Postgres) {
	toppings := []catalog.Topping{
		{ID: "queso", MerchantID: "mrc-tacos", Name: "Queso extra", PriceExtra: money(300), Active: true},
		{ID: "guacamole", MerchantID: "mrc-tacos", Name: "Guacamole", PriceExtra: money(450), Active: true},
	}
	for _, t := range toppings {
		if _, err := db.UpsertTopping(ctx, t); err != nil {
			log.Printf("seed topping %s: %v", t.ID, err)
		}
	}

	wholesalePrice := money(800)
	wholesaleQty := 12
	products := []catalog.Product{
		{ID: "taco-pastor", MerchantID: "mrc-tacos", Name: "Taco al pastor", Category: "Tacos", PriceRetail: money(1200), ToppingIDs: []string{"queso", "guacamole"}, Active: true, Position: 1},
		{ID: "taco-suadero", MerchantID: "mrc-tacos", Name: "Taco de suadero", Category: "Tacos", PriceRetail: money(1300), ToppingIDs: []string{"queso"}, Active: true, Position: 2},
		{ID: "agua-horchata", MerchantID: "mrc-tacos", Name: "Agua de horchata", Category: "Bebidas", PriceRetail: money(900), Active: true, Position: 3},
		{ID: "yerba-1kg", MerchantID: "mrc-almacen", Name: "Yerba mate 1kg", Category: "Almacén", PriceRetail: money(1000), PriceWholesale: &wholesalePrice, WholesaleMinQty: &wholesaleQty, Active: true, Position: 1},
	}
	for _, p := range products {
		if _, err := db.UpsertProduct(ctx, p); err != nil {
			log.Printf("seed product %s: %v", p.ID, err)
		}
	}
}

func seedPromotions(ctx context.Context, db *store.Postgres) {
	limit := 100
	promotions := []promotion.Promotion{
		{ID: "promo-bienvenida", MerchantID: "mrc-tacos", Code: "BIENVENIDA", Description: "10% en tu primer pedido", Active: true, UsageLimit: &limit,
			Benefit: promotion.Percentage{Percent: decimal.NewFromInt(10)}},
		{ID: "promo-martes", MerchantID: "mrc-tacos", Code: "MARTES3X2", Description: "3x2 en tacos los martes", Active: true,
			Weekdays: []time.Weekday{time.Tuesday},
			Benefit:  promotion.BuyXPayY{BuyX: 3, PayY: 2, ProductIDs: []string{"taco-pastor", "taco-suadero"}}},
		{ID: "promo-mayorista", MerchantID: "mrc-almacen", Code: "MAYORISTA500", Description: "$500 off desde $20000", Active: true,
			MinPurchase: money(20000), Benefit: promotion.FixedAmount{Amount: money(500)}},
	}
	for _, p := range promotions {
		p.Code = promotion.NormalizeCode(p.Code)
		if err := p.Validate(); err != nil {
			log.Printf("skip promotion %s: %v", p.Code, err)
			continue
		}
		if _, err := db.CreatePromotion(ctx, p); err != nil {
			if errors.Is(err, promotion.ErrDuplicateCode) {
				log.Printf("promotion %s already exists", p.Code)
				continue
			}
			log.Printf("seed promotion %s: %v", p.Code, err)
		}
	}
}
