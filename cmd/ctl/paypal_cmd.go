package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"whatsapp-voice-subscription/internal/infra/adapters/paypal"
)

var (
	ppClientID     string
	ppClientSecret string
	ppAPIURL       string
	ppProductName  string
	ppPlanName     string
	ppPrice        string
	ppCurrency     string
)

var paypalCmd = &cobra.Command{
	Use:   "paypal",
	Short: "Billing provider setup",
}

// Runs before a plan id exists, so credentials come from flags or the
// environment instead of the validated config file.
var paypalSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the catalog product and the monthly billing plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ppClientID == "" || ppClientSecret == "" {
			return errors.New("--client-id and --client-secret (or PAYPAL_CLIENT_ID / PAYPAL_CLIENT_SECRET) are required")
		}
		client, err := paypal.NewClient(paypal.Config{
			ClientID:     ppClientID,
			ClientSecret: ppClientSecret,
			BaseURL:      ppAPIURL,
		}, cliLogger())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		productID, err := client.CreateProduct(ctx, ppProductName, "Voice note transcription and summaries on WhatsApp")
		if err != nil {
			return err
		}
		planID, err := client.CreatePlan(ctx, productID, paypal.PlanSpec{
			Name:        ppPlanName,
			Description: "Unlimited voice summaries, billed monthly",
			Price:       ppPrice,
			Currency:    ppCurrency,
		})
		if err != nil {
			return err
		}
		fmt.Printf("product_id: %s\nplan_id:    %s\n", productID, planID)
		fmt.Println("Set paypal.product_id and paypal.plan_id in the config.")
		return nil
	},
}

func init() {
	f := paypalSetupCmd.Flags()
	f.StringVar(&ppClientID, "client-id", os.Getenv("PAYPAL_CLIENT_ID"), "PayPal REST client id")
	f.StringVar(&ppClientSecret, "client-secret", os.Getenv("PAYPAL_CLIENT_SECRET"), "PayPal REST client secret")
	f.StringVar(&ppAPIURL, "api-url", "https://api-m.sandbox.paypal.com", "PayPal API base url")
	f.StringVar(&ppProductName, "product", "Voice Summary Bot", "catalog product name")
	f.StringVar(&ppPlanName, "plan", "Voice Summary Premium", "billing plan name")
	f.StringVar(&ppPrice, "price", "3.99", "monthly price")
	f.StringVar(&ppCurrency, "currency", "EUR", "ISO currency code")

	paypalCmd.AddCommand(paypalSetupCmd)
	rootCmd.AddCommand(paypalCmd)
}
