package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"homeraAi/internal/billing"
	"homeraAi/internal/plans"
)

var (
	countryFlag string
	priceFlag   float64
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List plan tiers with VAT for a country",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIER\tNAME\tRESOLUTION\tQUALITY\tEX VAT\tVAT\tTOTAL")
		for _, p := range plans.All() {
			q := billing.Quote(p, countryFlag)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t€%.2f\t%d%% €%.2f\t€%.2f\n",
				p.ID, p.Name, p.Resolution, p.Quality, q.PriceExVAT, q.VATRate, q.VAT, q.Total)
		}
		return tw.Flush()
	},
}

var vatCmd = &cobra.Command{
	Use:   "vat",
	Short: "Compute VAT and total for a net price",
	RunE: func(cmd *cobra.Command, args []string) error {
		if priceFlag < 0 {
			return fmt.Errorf("price must not be negative")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "country: %s\nrate: %d%%\nvat: €%.2f\ntotal: €%.2f\n",
			countryFlag, billing.VATRate(countryFlag),
			billing.RoundCents(billing.VAT(priceFlag, countryFlag)),
			billing.RoundCents(billing.Total(priceFlag, countryFlag)))
		return nil
	},
}

func init() {
	countryHelp := "Billing country (" + strings.Join(billing.Countries(), ", ") + "; others use the default rate)"
	plansCmd.Flags().StringVarP(&countryFlag, "country", "c", "Netherlands", countryHelp)
	vatCmd.Flags().StringVarP(&countryFlag, "country", "c", "Netherlands", countryHelp)
	vatCmd.Flags().Float64Var(&priceFlag, "price", 0, "Price excluding VAT")
}
