//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/yield_bridge/internal/infrastructure/adapters/vault"
)

// Checks the vault gateway and the Iris API with read-only calls
func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	vaultURL := os.Getenv("VAULT_BASE_URL")
	if vaultURL == "" {
		log.Fatal("VAULT_BASE_URL environment variable is required")
	}
	env := os.Getenv("CCTP_ENVIRONMENT")
	if env == "" {
		env = "sandbox"
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	vc := vault.NewClient(vault.Config{
		BaseURL: vaultURL,
		APIKey:  os.Getenv("VAULT_API_KEY"),
		Timeout: 15 * time.Second,
	}, logger)

	fmt.Println("Checking vault fees...")
	quote, err := vc.GetFees(ctx, "ethereum", "polygon", "USDT", decimal.NewFromInt(1000))
	if err != nil {
		log.Fatalf("vault fees failed: %v", err)
	}
	fmt.Printf("  fee=%s rate=%s\n", quote.Fee, quote.FeeRate)

	fmt.Println("Checking vault yield...")
	rate, err := vc.GetYield(ctx, "USDC")
	if err != nil {
		log.Fatalf("vault yield failed: %v", err)
	}
	fmt.Printf("  apy=%s\n", rate.APY)

	iris := cctp.NewClient(cctp.Config{Environment: env, Timeout: 15 * time.Second}, logger)

	fmt.Println("Checking Iris fees (ethereum -> solana)...")
	fees, err := iris.GetFees(ctx, cctp.DomainEthereum, cctp.DomainSolana)
	if err != nil {
		log.Fatalf("iris fees failed: %v", err)
	}
	fmt.Printf("  fast=%dbps standard=%dbps\n", fees.FastTransferFee.MinimumFee, fees.StandardFee.MinimumFee)

	fmt.Println("Connectivity OK")
}
