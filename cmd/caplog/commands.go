package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/caplog/internal/api"
	"github.com/kalambet/caplog/internal/config"
	"github.com/kalambet/caplog/internal/export"
	"github.com/kalambet/caplog/internal/recorder"
	"github.com/kalambet/caplog/internal/source"
	"github.com/kalambet/caplog/internal/storage"
	"github.com/kalambet/caplog/internal/textproc"
)

// pushBatchSize bounds how many results push sends per request.
const pushBatchSize = 50

// openStore loads the config and opens the local database for commands
// that work without a running server.
func openStore() (config.Config, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	setupLogging(cfg.Log.Level)
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("opening storage: %w", err)
	}
	return cfg, store, nil
}

func intervalFlag(cmd *cobra.Command, cfg config.Config) time.Duration {
	if cmd.Flags().Changed("interval") {
		d, _ := cmd.Flags().GetDuration("interval")
		return d
	}
	return cfg.Capture.IntervalDuration()
}

// --- record ---

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a session from a text stream or PDF",
	Long: `Record a session in-process. Each input line is one recognition sample,
either plain text or "<confidence>\t<text>". Lines are paced by
capture.interval unless --interval is given. A paced replay behaves like
live capture and drops the oldest queued sample when the pipeline falls
behind; --interval 0 replays as fast as the pipeline keeps up, losing nothing.

Examples:
  ocr-tool | caplog record --title "Standup"
  caplog record --file captions.txt --interval 0
  caplog record --pdf slides.pdf --export all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		file, _ := cmd.Flags().GetString("file")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		conf, _ := cmd.Flags().GetFloat64("confidence")
		exportFmt, _ := cmd.Flags().GetString("export")

		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		interval := intervalFlag(cmd, cfg)
		var (
			src  source.Source
			meta = map[string]string{}
		)
		switch {
		case pdfPath != "":
			src = source.NewPDF(pdfPath, interval, conf)
			meta["source"] = "pdf"
			meta["file"] = filepath.Base(pdfPath)
		case file != "" && file != "-":
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening input: %w", err)
			}
			defer f.Close()
			src = source.NewLines(f, interval, conf)
			meta["source"] = "file"
			meta["file"] = filepath.Base(file)
		default:
			src = source.NewLines(cmd.InOrStdin(), interval, conf)
			meta["source"] = "stdin"
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printStep("Recording (Ctrl-C to stop)...")
		rep, err := recordSession(ctx, store, src, title, meta, cfg)
		if rep.SessionID == "" {
			return err
		}
		printReport(cmd.OutOrStdout(), rep)
		if err != nil {
			return err
		}

		if exportFmt != "" {
			exporter := export.NewExporter(store)
			paths, err := exportSession(context.Background(), exporter, rep.SessionID, exportFmt, cfg.Export.Dir, cfg.Export.IncludeTimestamps)
			if err != nil {
				return err
			}
			printPaths(cmd.OutOrStdout(), paths)
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().String("title", "", "session title (default: Session <date time>)")
	recordCmd.Flags().String("file", "", "read lines from a file instead of stdin")
	recordCmd.Flags().String("pdf", "", "replay the text of a PDF, page by page")
	recordCmd.Flags().Duration("interval", 0, "spacing between samples (default: capture.interval)")
	recordCmd.Flags().Float64("confidence", source.DefaultConfidence, "confidence for lines without one")
	recordCmd.Flags().String("export", "", "export the session when done (format or all)")
}

// recordSession runs src into a new session until it is exhausted or ctx is
// cancelled, then drains and ends the session. Unpaced sources wait for
// queue room instead of evicting. The returned report carries the session id
// whenever a session was created.
func recordSession(ctx context.Context, store *storage.Store, src source.Source, title string, meta map[string]string, cfg config.Config) (recorder.Report, error) {
	mgr := recorder.NewManager(ctx, store,
		recorder.WithQueueSize(cfg.Capture.QueueSize),
		recorder.WithProcessorOptions(cfg.ProcessorOptions()...),
	)
	id, err := mgr.Start(title, meta)
	if err != nil {
		return recorder.Report{}, err
	}

	submit := func(res textproc.Result) error { return mgr.SubmitWait(ctx, id, res) }
	if source.IsPaced(src) {
		submit = func(res textproc.Result) error { return mgr.Submit(id, res) }
	}
	runErr := src.Run(ctx, submit)
	if errors.Is(runErr, context.Canceled) || (ctx.Err() != nil && errors.Is(runErr, recorder.ErrNotRecording)) {
		runErr = nil
	}

	rep, stopErr := mgr.Stop(id)
	rep.SessionID = id
	return rep, errors.Join(runErr, stopErr)
}

func printReport(w io.Writer, rep recorder.Report) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Session"), rep.SessionID)
	fmt.Fprintf(w, "  received %d, accepted %d, rejected %d, evicted %d\n",
		rep.Received, rep.Accepted, rep.Rejected, rep.Evicted)
	if rep.Summary != nil {
		fmt.Fprintf(w, "  %d words, %s\n", rep.Summary.WordCount,
			rep.Summary.EndTime.Sub(rep.Summary.StartTime).Round(time.Second))
	}
}

// --- push ---

var pushCmd = &cobra.Command{
	Use:   "push [session-id]",
	Short: "Stream lines from stdin into a session on the running server",
	Long: `Read recognition samples from stdin and submit them to the running server.
Without a session id a new session is created.

Examples:
  ocr-tool | caplog push --title "Lecture 3" --end
  caplog push 6f1c... < more.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		end, _ := cmd.Flags().GetBool("end")
		conf, _ := cmd.Flags().GetFloat64("confidence")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var id string
		if len(args) == 1 {
			id = args[0]
			if err := client.ensureRecording(ctx, id); err != nil {
				return err
			}
		} else {
			sess, err := client.createSession(ctx, title)
			if err != nil {
				return err
			}
			id = sess.ID
			printSuccess("Created session %s", id)
		}

		n, err := pushLines(ctx, client, id, cmd.InOrStdin(), conf)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		printSuccess("Submitted %d results to %s", n, id)

		if end {
			if err := client.endSession(context.Background(), id); err != nil {
				return err
			}
			printSuccess("Ended session %s", id)
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().String("title", "", "title for a new session")
	pushCmd.Flags().Bool("end", false, "end the session after stdin closes")
	pushCmd.Flags().Float64("confidence", source.DefaultConfidence, "confidence for lines without one")
}

// pushLines submits parsed lines in batches and returns how many were sent.
func pushLines(ctx context.Context, client *apiClient, sessionID string, r io.Reader, conf float64) (int, error) {
	var (
		batch []textproc.Result
		sent  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := client.submit(ctx, sessionID, batch); err != nil {
			return err
		}
		sent += len(batch)
		batch = batch[:0]
		return nil
	}

	err := source.NewLines(r, 0, conf).Run(ctx, func(res textproc.Result) error {
		batch = append(batch, res)
		if len(batch) >= pushBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return sent, err
	}
	return sent, flush()
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.ListSessions(limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}
		for _, s := range sessions {
			n, _ := store.CountEntries(s.ID)
			status := colorize(colorDim, string(s.Status))
			if s.Status == storage.StatusActive {
				status = colorize(colorGreen, string(s.Status))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-9s %4d  %s\n",
				s.ID, s.StartTime.Local().Format("2006-01-02 15:04"), status, n, s.Title)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session and its exports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return showSession(cmd.OutOrStdout(), store, args[0])
	},
}

func showSession(w io.Writer, store *storage.Store, id string) error {
	s, err := store.GetSession(id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	n, err := store.CountEntries(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", colorize(colorBold, s.Title))
	fmt.Fprintf(w, "  ID:      %s\n", s.ID)
	fmt.Fprintf(w, "  Status:  %s\n", s.Status)
	fmt.Fprintf(w, "  Started: %s\n", s.StartTime.Local().Format(time.DateTime))
	if s.EndTime != nil {
		fmt.Fprintf(w, "  Ended:   %s\n", s.EndTime.Local().Format(time.DateTime))
	}
	if d, ok := s.Duration(); ok {
		fmt.Fprintf(w, "  Length:  %s\n", d.Round(time.Second))
	}
	fmt.Fprintf(w, "  Entries: %d\n", n)
	for k, v := range s.Metadata {
		fmt.Fprintf(w, "  %s: %s\n", k, v)
	}

	records, err := store.ListExports(id)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Fprintln(w, "  Exports:")
		for _, r := range records {
			fmt.Fprintf(w, "    %s  %-6s %s\n", r.ExportedAt.Local().Format(time.DateTime), r.Format, r.FilePath)
		}
	}
	return nil
}

var sessionsTranscriptCmd = &cobra.Command{
	Use:   "transcript <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		timestamps, _ := cmd.Flags().GetBool("timestamps")

		f, err := export.ParseFormat(format)
		if err != nil {
			return err
		}

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		data, err := export.NewExporter(store).Render(args[0], f, export.Options{IncludeTimestamps: timestamps})
		if err != nil {
			return fmt.Errorf("session %s: %w", args[0], err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsTranscriptCmd.Flags().String("format", "txt", "output format: txt, md, json, csv, srt or report")
	sessionsTranscriptCmd.Flags().Bool("timestamps", false, "prefix text lines with [HH:MM:SS]")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsTranscriptCmd)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Write export files for a session",
	Long: `Write a session export into the export directory.

Examples:
  caplog export 6f1c... --format srt
  caplog export 6f1c... --format all --out ./exports`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if out == "" {
			out = cfg.Export.Dir
		}
		timestamps := cfg.Export.IncludeTimestamps
		if cmd.Flags().Changed("timestamps") {
			timestamps, _ = cmd.Flags().GetBool("timestamps")
		}

		paths, err := exportSession(cmd.Context(), export.NewExporter(store), args[0], format, out, timestamps)
		if err != nil {
			return err
		}
		printPaths(cmd.OutOrStdout(), paths)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "all", "txt, md, json, csv, srt, report or all")
	exportCmd.Flags().String("out", "", "destination directory (default: export.dir)")
	exportCmd.Flags().Bool("timestamps", true, "include [HH:MM:SS] prefixes in text exports")
}

// exportSession writes one format, or every format for "all", into dir.
func exportSession(ctx context.Context, exporter *export.Exporter, id, format, dir string, timestamps bool) (map[export.Format]string, error) {
	if strings.EqualFold(format, "all") {
		return exporter.ExportAll(ctx, id, dir)
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	path, err := exporter.ExportInto(ctx, id, f, dir, export.Options{IncludeTimestamps: timestamps})
	if err != nil {
		return nil, err
	}
	return map[export.Format]string{f: path}, nil
}

func printPaths(w io.Writer, paths map[export.Format]string) {
	for _, f := range export.Formats {
		if p, ok := paths[f]; ok {
			fmt.Fprintf(w, "  %-6s %s\n", f, p)
		}
	}
}

// --- backup ---

var backupCmd = &cobra.Command{
	Use:   "backup <dest>",
	Short: "Write a consistent copy of the session database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Backup(args[0]); err != nil {
			return err
		}
		printSuccess("Database backed up to %s", args[0])
		return nil
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve session tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Exporter:  export.NewExporter(store),
			ExportDir: cfg.Export.Dir,
		})
		err = server.NewStdioServer(srv).Listen(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			origin := k.Origin
			if k.Origin == "env" {
				origin = k.EnvVar
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+origin+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
