package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vashsender/internal/dnscheck"
)

var dnsFlags struct {
	selector   string
	spfInclude string
	token      string
	publicKey  string
}

// resolver is swapped in tests.
var resolver dnscheck.Resolver

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "DNS diagnostics for sending domains",
}

var dnsCheckCmd = &cobra.Command{
	Use:   "check <domain>",
	Short: "Check ownership, SPF, DKIM, DMARC and MX records of a domain",
	Long: `Runs the same checks as domain verification and prints a report.

Without --token and --dkim-key only SPF, DMARC and MX can pass. Selector and
SPF include default to the MAIL_DKIM_SELECTOR and MAIL_SPF_INCLUDE settings.`,
	Args: cobra.ExactArgs(1),
	RunE: runDNSCheck,
}

func init() {
	dnsCheckCmd.Flags().StringVar(&dnsFlags.selector, "selector", "", "DKIM selector")
	dnsCheckCmd.Flags().StringVar(&dnsFlags.spfInclude, "spf-include", "", "SPF include the domain must carry")
	dnsCheckCmd.Flags().StringVar(&dnsFlags.token, "token", "", "expected ownership token")
	dnsCheckCmd.Flags().StringVar(&dnsFlags.publicKey, "dkim-key", "", "expected DKIM public key (base64)")
	dnsCmd.AddCommand(dnsCheckCmd)
}

func runDNSCheck(cmd *cobra.Command, args []string) error {
	exp := dnscheck.Expectation{
		Domain:     args[0],
		Token:      dnsFlags.token,
		Selector:   dnsFlags.selector,
		PublicKey:  dnsFlags.publicKey,
		SPFInclude: dnsFlags.spfInclude,
	}
	if exp.Selector == "" || exp.SPFInclude == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if exp.Selector == "" {
			exp.Selector = cfg.Mail.DKIMSelector
		}
		if exp.SPFInclude == "" {
			exp.SPFInclude = cfg.Mail.SPFInclude
		}
	}

	report := dnscheck.NewChecker(resolver).Check(cmd.Context(), exp)
	printReport(cmd.OutOrStdout(), report)
	if !report.Verified() {
		return fmt.Errorf("%s is not ready for sending", report.Domain)
	}
	return nil
}

func printReport(w io.Writer, r dnscheck.Report) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "Domain: %s\n", r.Domain)
	for _, row := range []struct {
		name   string
		passed bool
	}{
		{"ownership", r.Ownership},
		{"spf", r.SPF},
		{"dkim", r.DKIM},
		{"dmarc", r.DMARC},
		{"mx", r.MX},
	} {
		if row.passed {
			fmt.Fprintf(w, "  %s %-9s\n", ok("✓"), row.name)
			continue
		}
		fmt.Fprintf(w, "  %s %-9s %s\n", bad("✗"), row.name, r.Problems[row.name])
	}
	if r.Verified() {
		fmt.Fprintln(w, ok("verified"))
	} else {
		fmt.Fprintln(w, bad("not verified"))
	}
}
