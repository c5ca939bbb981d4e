// Command simulation seeds a demo dataset (farmers, shelters, warehouses,
// graded inventory lots, discount tiers) into the configured database, then
// exercises the query and recalculation endpoints against a locally running
// server. Scrape triggers are left alone so the run never needs a browser.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/coffee-collateral-api/internal/auth"
	"github.com/ksred/coffee-collateral-api/internal/database"
	"github.com/ksred/coffee-collateral-api/internal/inventory"
	"github.com/ksred/coffee-collateral-api/internal/marketdata"
	"github.com/ksred/coffee-collateral-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	numFarmers    = 5
	numShelters   = 2
	numWarehouses = 2
	lotsPerFarmer = 3
	serverAddress = "http://localhost:8080"
)

// Tier haircuts by grade, steeper for lower grades.
var gradeDiscounts = map[types.Grade]float64{
	types.Grade1:  10,
	types.Grade2:  15,
	types.Grade3:  20,
	types.Grade4A: 25,
	types.Grade4B: 30,
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	db, err := database.NewDatabase(envOr("DATABASE_PATH", "coffee.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	farmerIDs, err := seedEntities(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed demo dataset")
	}
	if err := seedDiscountSettings(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed discount settings")
	}
	log.Info().Int("farmers", len(farmerIDs)).Msg("Demo dataset seeded")

	token, err := fetchToken()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate, is the server running?")
	}
	log.Info().Msg("Authenticated against local server")

	exerciseEndpoints(token, farmerIDs)
}

// seedEntities writes the entity graph and inventory lots, returning the
// farmer IDs for later recalculation calls.
func seedEntities(db *gorm.DB) ([]string, error) {
	warehouseIDs := make([]string, 0, numWarehouses)
	for i := 0; i < numWarehouses; i++ {
		id := "WH_" + uuid.New().String()
		warehouse := inventory.Warehouse{
			WarehouseID: id,
			Name:        fmt.Sprintf("Warehouse %d", i+1),
		}
		if err := db.Create(&warehouse).Error; err != nil {
			return nil, err
		}
		warehouseIDs = append(warehouseIDs, id)
	}

	shelterIDs := make([]string, 0, numShelters)
	for i := 0; i < numShelters; i++ {
		id := "SHL_" + uuid.New().String()
		shelter := inventory.Shelter{
			ShelterID: id,
			Name:      fmt.Sprintf("Shelter %d", i+1),
		}
		if err := db.Create(&shelter).Error; err != nil {
			return nil, err
		}
		shelterIDs = append(shelterIDs, id)
	}

	farmerIDs := make([]string, 0, numFarmers)
	for i := 0; i < numFarmers; i++ {
		id := "FRM_" + uuid.New().String()
		farmer := inventory.Farmer{
			FarmerID: id,
			Name:     fmt.Sprintf("Farmer %d", i+1),
		}
		if err := db.Create(&farmer).Error; err != nil {
			return nil, err
		}
		farmerIDs = append(farmerIDs, id)

		for j := 0; j < lotsPerFarmer; j++ {
			lot := inventory.Inventory{
				InventoryID:      "INV_" + uuid.New().String(),
				WarehouseID:      warehouseIDs[rand.Intn(len(warehouseIDs))],
				FarmerID:         &id,
				CommodityType:    types.Commodities[rand.Intn(len(types.Commodities))].InventoryType(),
				Grade:            types.CollateralGrades[rand.Intn(len(types.CollateralGrades))].DisplayName(),
				Inbound:          float64(500 + rand.Intn(2000)),
				Outbound:         float64(rand.Intn(400)),
				DocumentVerified: rand.Intn(10) > 1, // most lots verified
			}
			if err := db.Create(&lot).Error; err != nil {
				return nil, err
			}
		}
	}

	// A couple of shelter-routed lots so every scope kind has stock.
	for _, shelterID := range shelterIDs {
		sid := shelterID
		lot := inventory.Inventory{
			InventoryID:      "INV_" + uuid.New().String(),
			WarehouseID:      warehouseIDs[rand.Intn(len(warehouseIDs))],
			ShelterID:        &sid,
			CommodityType:    types.CommodityRobusta.InventoryType(),
			Grade:            types.Grade2.DisplayName(),
			Inbound:          float64(1000 + rand.Intn(3000)),
			DocumentVerified: true,
		}
		if err := db.Create(&lot).Error; err != nil {
			return nil, err
		}
	}

	return farmerIDs, nil
}

// seedDiscountSettings writes one haircut tier per commodity and grade,
// skipping pairs that already exist so reruns stay clean.
func seedDiscountSettings(db *gorm.DB) error {
	for _, commodity := range types.Commodities {
		for _, grade := range types.CollateralGrades {
			var count int64
			err := db.Model(&marketdata.MaDiscountSetting{}).
				Where("commodity = ? AND grade = ?", commodity, grade).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			setting := marketdata.MaDiscountSetting{
				Commodity: commodity,
				Grade:     grade,
				Discount:  gradeDiscounts[grade],
			}
			if err := db.Create(&setting).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchToken authenticates with the configured API credentials.
func fetchToken() (string, error) {
	creds := auth.Credentials{
		APIKey:    os.Getenv("API_KEY"),
		APISecret: os.Getenv("API_SECRET"),
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}

	resp, err := http.Post(serverAddress+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request returned %d: %s", resp.StatusCode, payload)
	}

	var envelope struct {
		Data auth.TokenResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	return envelope.Data.Token, nil
}

// exerciseEndpoints walks the read and recalculation surface, logging each
// response status.
func exerciseEndpoints(token string, farmerIDs []string) {
	client := &http.Client{Timeout: 30 * time.Second}

	call(client, token, "GET", "/api/v1/market-data/arabica/latest", nil)
	call(client, token, "GET", "/api/v1/market-data/robusta/latest", nil)
	call(client, token, "GET", "/api/v1/ccr/platform", nil)

	recalcBody := map[string]string{"reason": "Demo dataset recalculation"}
	for _, farmerID := range farmerIDs {
		call(client, token, "POST", "/api/v1/ccr/farmer/"+farmerID+"/recalculate", recalcBody)
	}
	call(client, token, "POST", "/api/v1/ccr/platform/all/recalculate", recalcBody)

	call(client, "", "GET", "/health", nil)
}

func call(client *http.Client, token, method, path string, body interface{}) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to encode request body")
			return
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, serverAddress+path, reader)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to build request")
		return
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Request failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	log.Info().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Endpoint exercised")
}
