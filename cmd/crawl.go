package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stockcrawler/internal/service"
)

func newCrawlCmd(state *rootState) *cobra.Command {
	var (
		format  string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "crawl [SYMBOL ...]",
		Short: "Crawls the given symbols and prints the table",
		Long: `Crawls the summary page of every requested symbol and prints the merged
table. Symbols may be separated by spaces or commas. With no symbols, or
with ALL, every company in the directory is crawled.`,
		Example: `  stockcrawler crawl AAPL MSFT
  stockcrawler crawl "AAPL, GOOG" --format json
  stockcrawler crawl ALL --refresh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.appOrErr()
			if err != nil {
				return err
			}
			if format != "csv" && format != "json" {
				return fmt.Errorf("unknown format %q", format)
			}

			if refresh {
				if err := a.Service.Refresh(cmd.Context(), ""); err != nil {
					return fmt.Errorf("refresh directory: %w", err)
				}
			}

			out, err := a.Service.Crawl(cmd.Context(), service.ParseSymbols(strings.Join(args, ",")))
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}

			for _, sym := range out.Missing {
				fmt.Fprintf(cmd.ErrOrStderr(), "unknown symbol: %s\n", sym)
			}
			for _, f := range out.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %v\n", f.Target.Symbol(), f.Kind, f.Err)
			}

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out.Table)
			default:
				return out.Table.WriteCSV(cmd.OutOrStdout())
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format: csv or json")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refresh the directory from the listing URL first")
	return cmd
}
