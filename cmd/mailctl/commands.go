package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oscmail/automailer/internal/config"
	"github.com/oscmail/automailer/internal/gate"
	"github.com/oscmail/automailer/internal/logger"
	"github.com/oscmail/automailer/internal/report"
	automailer "github.com/oscmail/automailer/sdk/go"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server   string
	passcode string
	report   string
	yes      bool
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "mailctl",
		Short:         "Drive an automailer server from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", serverFromEnv(), "automailer server URL")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log flow transitions to stderr")

	processCmd := &cobra.Command{
		Use:   "process [spreadsheet-id]",
		Short: "List the eligible recipients of a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	sendCmd := &cobra.Command{
		Use:   "send [spreadsheet-id]",
		Short: "Send confirmation emails to every eligible recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	sendCmd.Flags().StringVar(&opts.passcode, "passcode", "", "confirmation passcode (prompted when empty)")
	sendCmd.Flags().StringVar(&opts.report, "report", "", "write an xlsx report of the run to this path")

	verifyCmd := &cobra.Command{
		Use:   "verify [code]",
		Short: "Check the format of an attendance code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	hashCmd := &cobra.Command{
		Use:   "hash-passcode [passcode]",
		Short: "Print a bcrypt hash for gate.passcode_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := gate.Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(hashCmd)

	return rootCmd
}

func serverFromEnv() string {
	if s := os.Getenv("AUTOMAILER_SERVER_URL"); s != "" {
		return s
	}
	return defaultServer
}

func runProcess(ctx context.Context, opts *options, id string, out io.Writer) error {
	client := automailer.NewClient(automailer.Config{BaseURL: opts.server})

	resp, err := client.ProcessSpreadsheet(ctx, id)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(out, "%d rows, tracking column %d, %d eligible recipients\n",
		len(resp.Rows), resp.UniqueIDColumn, len(resp.Recipients))
	printRecipients(out, resp.Recipients)
	return nil
}

func runSend(ctx context.Context, opts *options, id string, in io.Reader, out, errOut io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level := "info"
	if opts.verbose {
		level = "debug"
	}
	log := logger.NewConsole(errOut, level)

	flow := automailer.NewFlow(
		automailer.NewClient(automailer.Config{BaseURL: opts.server}),
		gate.New(cfg.Gate.Passcode, cfg.Gate.PasscodeHash),
	)
	flow.OnTransition = func(from, to automailer.State) {
		log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("flow transition")
	}

	resp, err := flow.Fetch(ctx, id)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(out, "About to email %d recipients:\n", len(resp.Recipients))
	printRecipients(out, resp.Recipients)

	passcode := opts.passcode
	if passcode == "" {
		fmt.Fprint(out, "Enter passcode to confirm: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			flow.Cancel()
			return errors.New("no passcode entered")
		}
		passcode = strings.TrimRight(line, "\r\n")
	}

	res, err := flow.Confirm(ctx, passcode)
	if err != nil {
		if flow.State() == automailer.StateConfirming {
			flow.Cancel()
		}
		return describe(err)
	}

	fmt.Fprintf(out, "Sent %d/%d (%d failed)\n", res.Successful, res.Total, res.Failed)
	printOutcomes(out, res.Results)

	if opts.report != "" {
		f, err := os.Create(opts.report)
		if err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
		defer f.Close()

		if err := report.Write(f, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report written to %s\n", opts.report)
	}
	return nil
}

func runVerify(ctx context.Context, opts *options, code string, out io.Writer) error {
	client := automailer.NewClient(automailer.Config{BaseURL: opts.server})

	resp, err := client.VerifyAttendance(ctx, code)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "%s: %s\n", resp.Code, resp.Message)
	return nil
}

func printRecipients(out io.Writer, recipients []automailer.Recipient) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tNAME\tEMAIL")
	for _, r := range recipients {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Row, r.Name, r.Email)
	}
	tw.Flush()
}

func printOutcomes(out io.Writer, outcomes []automailer.Outcome) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tEMAIL\tSTATUS\tCODE/ERROR")
	for _, o := range outcomes {
		detail := o.Code
		if !o.Succeeded() {
			detail = o.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", o.Sequence, o.Email, o.Status, detail)
	}
	tw.Flush()
}

// describe turns API errors into the message a user should see.
func describe(err error) error {
	if apiErr, ok := automailer.IsAPIError(err); ok {
		if len(apiErr.MissingColumns) > 0 {
			return fmt.Errorf("%s (missing: %s)", apiErr.Message, strings.Join(apiErr.MissingColumns, ", "))
		}
		if apiErr.Details != "" {
			return fmt.Errorf("%s: %s", apiErr.Message, apiErr.Details)
		}
		return errors.New(apiErr.Message)
	}
	return err
}
