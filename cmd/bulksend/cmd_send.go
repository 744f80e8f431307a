package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thrillee/aegisbulk/internal/app"
	"github.com/thrillee/aegisbulk/internal/compose"
	"github.com/thrillee/aegisbulk/internal/config"
	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/dispatch"
	"github.com/thrillee/aegisbulk/internal/logging"
	"github.com/thrillee/aegisbulk/internal/session"
	"github.com/thrillee/aegisbulk/internal/wallet"
	"github.com/thrillee/aegisbulk/pkg/codes"
	"github.com/thrillee/aegisbulk/pkg/msisdn"
)

var sendOpts struct {
	file        string
	text        string
	message     string
	messageFile string
	senderID    string
	mode        string
	dryRun      bool
	yes         bool
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message to every contact in a file",
	Long: `Load contacts, batch them, quote the cost and dispatch.

Contacts come from --file (.csv, .xlsx or .json) or --text.
With --mode personalized, {{name}}, {{phone}}, {{email}} and any other
column of the file are filled in per recipient.`,
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendOpts.file, "file", "f", "", "Contact file (.csv, .xlsx, .json)")
	f.StringVar(&sendOpts.text, "text", "", "Phone numbers separated by commas, semicolons or whitespace")
	f.StringVarP(&sendOpts.message, "message", "m", "", "Message body")
	f.StringVar(&sendOpts.messageFile, "message-file", "", "Read the message body from a file")
	f.StringVarP(&sendOpts.senderID, "sender", "s", "", "Sender ID (3-11 alphanumerics)")
	f.StringVar(&sendOpts.mode, "mode", codes.ModeGroup, "group or personalized")
	f.BoolVar(&sendOpts.dryRun, "dry-run", false, "Quote only, do not send")
	f.BoolVarP(&sendOpts.yes, "yes", "y", false, "Send without the confirmation prompt")
}

// loadContacts reads the contact source named by the flags.
func loadContacts(in *contact.Ingester) (contact.Result, error) {
	if sendOpts.text != "" {
		return in.IngestText(sendOpts.text)
	}
	if sendOpts.file == "" {
		return contact.Result{}, errors.New("one of --file or --text is required")
	}
	fh, err := os.Open(sendOpts.file)
	if err != nil {
		return contact.Result{}, err
	}
	defer fh.Close()

	switch strings.ToLower(filepath.Ext(sendOpts.file)) {
	case ".xlsx":
		return in.IngestXLSX(fh, contact.Mapping{})
	case ".json":
		return in.IngestJSON(fh)
	default:
		return in.IngestCSV(fh, contact.Mapping{})
	}
}

func loadMessage() (string, error) {
	if sendOpts.messageFile != "" {
		b, err := os.ReadFile(sendOpts.messageFile)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\n"), nil
	}
	return sendOpts.message, nil
}

func runSend(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := "warn"
	if verbose {
		level = "debug"
	}
	logging.Setup(cmd.ErrOrStderr(), level)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("region") {
		cfg.Compose.DefaultRegion = region
	}
	normalizer, err := msisdn.New(cfg.Compose.DefaultRegion)
	if err != nil {
		return err
	}

	res, err := loadContacts(contact.NewIngester(cfg.Compose.GroupPageSize))
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}
	body, err := loadMessage()
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}

	gw, err := app.NewGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close(context.Background())

	finished := make(chan dispatch.Summary, 1)
	mgr := session.NewManager(session.Config{
		Limits: session.Limits{
			MaxBatchSize:     cfg.Compose.MaxBatchSize,
			SegmentCharLimit: cfg.Compose.SegmentCharLimit,
			MaxSegments:      cfg.Compose.MaxSegments,
		},
		Normalizer: normalizer,
		Wallet:     wallet.NewService(gw.Client),
		Engine:     dispatch.NewEngine(gw.Sender, dispatch.Options{Concurrency: cfg.Dispatch.Concurrency}),
		OnFinished: func(_ context.Context, _ string, s dispatch.Summary) { finished <- s },
	})

	s := mgr.Create()
	s.AddContacts(res)
	if err := s.SetMode(sendOpts.mode); err != nil {
		return err
	}
	if err := s.Compose(func(c *compose.Composer) error {
		return c.ApplyTemplate(compose.Template{Body: body})
	}); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	out := cmd.OutOrStdout()
	q, built, err := s.Quote(ctx)
	if err != nil {
		return err
	}
	printQuote(out, res, q, built, s.View().Segments)
	if sendOpts.dryRun {
		return nil
	}
	if q.Insufficient {
		return fmt.Errorf("insufficient balance: short by %s", q.Shortfall().StringFixed(2))
	}
	if !sendOpts.yes && !confirm(cmd) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	run, err := s.StartDispatch(ctx, sendOpts.senderID)
	if err != nil {
		return err
	}
	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	fmt.Fprintf(out, "Run %s started\n", run.ID())
	var summary dispatch.Summary
	for done := false; !done; {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			printUpdate(out, u)
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopping: in-flight batches will finish...")
			s.Stop()
			ctx = context.Background()
		case summary = <-finished:
			done = true
		}
	}
	// The session closes subscriptions before reporting the summary.
	if updates != nil {
		for u := range updates {
			printUpdate(out, u)
		}
	}

	fmt.Fprintf(out, "Finished (%s): %d succeeded, %d failed, %d not started, %d/%d recipients sent\n",
		summary.Status(), summary.Succeeded, summary.Failed, summary.NotStarted, summary.SentRecipients, summary.Recipients)
	for _, it := range summary.Items {
		if it.Status == codes.UnitStatusFailed {
			fmt.Fprintf(out, "  %s failed: %s\n", it.Label, it.Error)
		}
	}
	if summary.Failed > 0 {
		slog.Debug("Run had failures", slog.String("run_id", summary.RunID))
		return fmt.Errorf("%d of %d batches failed", summary.Failed, summary.Units)
	}
	return nil
}

func printQuote(out io.Writer, res contact.Result, q wallet.CostQuote, built dispatch.BuildResult, segments int) {
	fmt.Fprintf(out, "Contacts loaded: %d (%d rows without a phone)\n", len(res.Contacts), res.Dropped)
	fmt.Fprintf(out, "Recipients: %d in %d batches (%d invalid, %d duplicates skipped)\n",
		q.Recipients, len(built.Units), q.Skipped, built.Duplicates)
	fmt.Fprintf(out, "Segments: %d\n", segments)
	fmt.Fprintf(out, "Cost: %s x %d x %d = %s (balance %s)\n",
		q.UnitCost.String(), q.Recipients, max(segments, 1), q.Total.StringFixed(2), q.Balance.StringFixed(2))
	for _, r := range built.Rejections {
		slog.Debug("Skipped number", slog.String("raw", r.Raw), slog.Any("reason", r.Err))
	}
}

func printUpdate(out io.Writer, u dispatch.Update) {
	line := fmt.Sprintf("[%d] %-8s %d/%d", u.Index+1, u.Status, u.Sent, u.Total)
	if u.Error != "" {
		line += " " + u.Error
	}
	fmt.Fprintln(out, line)
}

func confirm(cmd *cobra.Command) bool {
	fmt.Fprint(cmd.OutOrStdout(), "Send now? [y/N] ")
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
