package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parkdeck/parkdeck/internal/model"
)

func newListingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing",
		Short: "Manage parking listings",
		Long:  "Seed and inspect the parking listings served by the public API.",
	}

	cmd.AddCommand(newListingAddCmd())
	cmd.AddCommand(newListingListCmd())

	return cmd
}

// ---------- listing add ----------

func newListingAddCmd() *cobra.Command {
	var (
		title        string
		address      string
		city         string
		pricePerHour float64
	)

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add a parking listing",
		Example: `  parkdeck listing add --title "Covered spot near station" --city Rotterdam --price 2.50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListingAdd(title, address, city, pricePerHour)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Listing title (required)")
	cmd.Flags().StringVar(&address, "address", "", "Street address")
	cmd.Flags().StringVar(&city, "city", "", "City")
	cmd.Flags().Float64Var(&pricePerHour, "price", 0, "Price per hour")
	cmd.MarkFlagRequired("title")

	return cmd
}

func runListingAdd(title, address, city string, pricePerHour float64) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	listing := &model.ParkingListing{
		Title:        title,
		Address:      address,
		City:         city,
		PricePerHour: pricePerHour,
		IsActive:     true,
	}
	if err := store.CreateListing(context.Background(), listing); err != nil {
		return fmt.Errorf("create listing: %w", err)
	}

	fmt.Printf("Created listing #%d %q\n", listing.ID, title)
	return nil
}

// ---------- listing list ----------

func newListingListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List active parking listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListingList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runListingList(jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	listings, err := store.ListActiveListings(context.Background())
	if err != nil {
		return fmt.Errorf("list listings: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}

	if len(listings) == 0 {
		fmt.Println("No active listings.")
		return nil
	}

	fmt.Printf("%-5s %-40s %-20s %10s\n", "ID", "TITLE", "CITY", "PRICE/H")
	for _, l := range listings {
		fmt.Printf("%-5d %-40s %-20s %10.2f\n", l.ID, l.Title, l.City, l.PricePerHour)
	}
	return nil
}
