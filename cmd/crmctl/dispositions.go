package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"settlement-crm/internal/dialer"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDispositionsCmd() *cobra.Command {
	var (
		file   string
		asYAML bool
	)
	cmd := &cobra.Command{
		Use:   "dispositions",
		Short: "Validate and print the effective disposition policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("DIALER_DISPOSITIONS_FILE")
			}
			p, err := dialer.LoadPolicy(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if asYAML {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(p)
			}

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CODE\tOUTCOME\tRETRY AFTER")
			for _, code := range p.Codes() {
				r := p.Rules[code]
				retry := "-"
				if r.RetryAfter > 0 {
					retry = r.RetryAfter.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", code, r.Outcome, retry)
			}
			if p.MaxAttempts > 0 {
				fmt.Fprintf(w, "\nmax attempts: %d\n", p.MaxAttempts)
			} else {
				fmt.Fprintln(w, "\nmax attempts: unlimited")
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "policy YAML (defaults to $DIALER_DISPOSITIONS_FILE, then built-ins)")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the merged policy as YAML")
	return cmd
}
