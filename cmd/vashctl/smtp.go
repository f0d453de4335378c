package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vashsender/internal/mailer"
	"vashsender/internal/models"
	"vashsender/internal/utils/logger"
)

var smtpFlags struct {
	host     string
	port     int
	username string
	password string
	tls      string
	proxy    string
	helo     string
	timeout  time.Duration
}

var smtpCmd = &cobra.Command{
	Use:   "smtp",
	Short: "SMTP relay diagnostics",
}

var smtpTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Connect, negotiate TLS and authenticate against an SMTP server",
	RunE:  runSMTPTest,
}

func init() {
	f := smtpTestCmd.Flags()
	f.StringVar(&smtpFlags.host, "host", "", "SMTP host")
	f.IntVar(&smtpFlags.port, "port", 587, "SMTP port")
	f.StringVar(&smtpFlags.username, "username", "", "username")
	f.StringVar(&smtpFlags.password, "password", "", "password")
	f.StringVar(&smtpFlags.tls, "tls", string(models.TLSModeStartTLS), "NONE, STARTTLS or TLS")
	f.StringVar(&smtpFlags.proxy, "proxy", "", "socks5:// egress proxy")
	f.StringVar(&smtpFlags.helo, "helo", "localhost", "HELO name")
	f.DurationVar(&smtpFlags.timeout, "timeout", 15*time.Second, "dial and command timeout")
	_ = smtpTestCmd.MarkFlagRequired("host")
	smtpCmd.AddCommand(smtpTestCmd)
}

func runSMTPTest(cmd *cobra.Command, _ []string) error {
	mode := models.TLSMode(strings.ToUpper(smtpFlags.tls))
	switch mode {
	case models.TLSModeNone, models.TLSModeStartTLS, models.TLSModeTLS:
	default:
		return fmt.Errorf("unknown TLS mode %q", smtpFlags.tls)
	}

	srv := mailer.Server{
		Host:         smtpFlags.host,
		Port:         smtpFlags.port,
		Username:     smtpFlags.username,
		Password:     smtpFlags.password,
		TLSMode:      mode,
		RequiresAuth: smtpFlags.username != "",
		ProxyURL:     smtpFlags.proxy,
		HeloName:     smtpFlags.helo,
		Timeout:      smtpFlags.timeout,
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Probing %s:%d (%s)...\n", srv.Host, srv.Port, srv.TLSMode)
	if err := mailer.NewSMTPMailer(logger.New("SMTP")).Probe(cmd.Context(), srv); err != nil {
		fmt.Fprintln(out, color.RedString("✗ %v", err))
		return err
	}
	fmt.Fprintln(out, color.GreenString("✓ server accepted the connection"))
	return nil
}
