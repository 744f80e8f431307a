package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thrillee/aegisbulk/internal/auth"
	"github.com/thrillee/aegisbulk/pkg/msisdn"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [numbers...]",
	Short: "Normalize phone numbers to E.164",
	Long: `Normalize phone numbers given as arguments, or one per line on stdin.

Accepted numbers print in E.164 form; rejected ones print as
"REJECT <input>: <reason>".`,
	RunE: runNormalize,
}

func runNormalize(cmd *cobra.Command, args []string) error {
	n, err := msisdn.New(region)
	if err != nil {
		return err
	}

	inputs := args
	if len(inputs) == 0 {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				inputs = append(inputs, line)
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	rejected := 0
	for _, raw := range inputs {
		e164, err := n.Normalize(raw)
		if err != nil {
			var re *msisdn.RejectError
			if errors.As(err, &re) {
				err = re.Reason
			}
			fmt.Fprintf(out, "REJECT %s: %v\n", raw, err)
			rejected++
			continue
		}
		fmt.Fprintln(out, e164)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d accepted, %d rejected\n", len(inputs)-rejected, rejected)
	return nil
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <secret>",
	Short: "Print the bcrypt hash of an API key for API_KEY_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashAPIKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}
