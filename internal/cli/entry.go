package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journal/internal/journal"
	"github.com/mesh-intelligence/journal/pkg/types"
)

func newEntryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Record and review journal entries",
	}
	cmd.AddCommand(newEntryAddCmd(a), newEntryListCmd(a), newEntryDeleteCmd(a))
	return cmd
}

// entryFlags holds the raw flag values of entry add. Optional numbers are
// only used when the flag was given.
type entryFlags struct {
	in          journal.EntryInput
	anxiety     int
	creativity  int
	sleep       int
	dose        string
	preDose     string
	setting     string
	intention   string
	postEnergy  int
	postClarity int
	postMood    int
}

func (f *entryFlags) input(cmd *cobra.Command) journal.EntryInput {
	in := f.in
	changed := cmd.Flags().Changed
	if changed("anxiety") {
		in.Anxiety = &f.anxiety
	}
	if changed("creativity") {
		in.Creativity = &f.creativity
	}
	if changed("sleep") {
		in.SleepQuality = &f.sleep
	}
	if changed("dose") {
		in.DoseID = &f.dose
	}
	if changed("pre-dose-state") {
		in.PreDoseState = &f.preDose
	}
	if changed("setting") {
		in.Setting = &f.setting
	}
	if changed("intention") {
		in.Intention = &f.intention
	}
	if changed("post-energy") || changed("post-clarity") || changed("post-mood") {
		in.PostDose = &types.PostDoseMetrics{Energy: f.postEnergy, Clarity: f.postClarity, Mood: f.postMood}
	}
	return in
}

func newEntryAddCmd(a *app) *cobra.Command {
	var f entryFlags
	cmd := &cobra.Command{
		Use:   "add <protocol-id>",
		Short: "Log a journal entry for the protocol's current day",
		Long: `Add records an entry on the protocol's current day and queues its
anonymized scores for contribution. Only the day number, the reflection
scores and the dose time leave the device; content, tags and the other
fields stay local.

Example:
  journal entry add 0190a1b2 --energy 4 --clarity 4 --mood 5 --content "felt calm"`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.writableService(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			entry, err := svc.LogEntry(ctx, args[0], f.input(cmd))
			if err != nil {
				return err
			}
			proc, err := a.processor(ctx, false)
			if err != nil {
				return err
			}
			if _, err := proc.Enqueue(ctx, entry.ID); err != nil {
				// The entry is saved; sync watch picks pending entries up again.
				a.log.Warn("contribution not queued", "entry_id", entry.ID, "error", err)
			}
			return a.emit(cmd, entry, func(w io.Writer) {
				fmt.Fprintf(w, "Logged entry %s on day %d", shortID(entry.ID), entry.DayNumber)
				if entry.IsDoseDay {
					fmt.Fprint(w, " (dose day)")
				}
				fmt.Fprintln(w)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.in.Content, "content", "", "free-text journal content")
	fl.IntVar(&f.in.Energy, "energy", 0, metricUsage("energy score", types.MetricMin, types.MetricMax))
	fl.IntVar(&f.in.Clarity, "clarity", 0, metricUsage("clarity score", types.MetricMin, types.MetricMax))
	fl.IntVar(&f.in.Mood, "mood", 0, metricUsage("mood score", types.MetricMin, types.MetricMax))
	fl.IntVar(&f.anxiety, "anxiety", 0, metricUsage("anxiety score", types.MetricMin, types.MetricMax))
	fl.IntVar(&f.creativity, "creativity", 0, metricUsage("creativity score", types.MetricMin, types.MetricMax))
	fl.StringSliceVar(&f.in.Tags, "tags", nil, "comma-separated tags")
	fl.StringVar(&f.dose, "dose", "", "dose id this entry follows")
	fl.StringVar(&f.preDose, "pre-dose-state", "", "state before the dose")
	fl.IntVar(&f.postEnergy, "post-energy", 0, metricUsage("energy after the dose", types.PostDoseMetricMin, types.PostDoseMetricMax))
	fl.IntVar(&f.postClarity, "post-clarity", 0, metricUsage("clarity after the dose", types.PostDoseMetricMin, types.PostDoseMetricMax))
	fl.IntVar(&f.postMood, "post-mood", 0, metricUsage("mood after the dose", types.PostDoseMetricMin, types.PostDoseMetricMax))
	fl.StringVar(&f.setting, "setting", "", "where the dose was taken")
	fl.StringVar(&f.intention, "intention", "", "intention for the day")
	fl.IntVar(&f.sleep, "sleep", 0, metricUsage("sleep quality", types.MetricMin, types.MetricMax))
	return cmd
}

func metricUsage(label string, lo, hi int) string {
	return fmt.Sprintf("%s (%d-%d)", label, lo, hi)
}

func newEntryListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <protocol-id>",
		Short: "List a protocol's entries",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			// Entry content is private, so reading it needs the PIN too.
			svc, err := a.writableService(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			entries, err := svc.Entries(ctx, args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd, entries, func(w io.Writer) { printEntries(w, entries) })
		},
	}
}

func newEntryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete an entry and its queued contribution",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.writableService(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ok, err := svc.DeleteEntry(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("entry %q: %w", args[0], types.ErrNotFound)
			}
			return a.emit(cmd, map[string]any{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted entry %s\n", shortID(args[0]))
			})
		},
	}
}

func printEntries(w io.Writer, entries []*types.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		content := e.Content
		if len(content) > 40 {
			content = content[:37] + "..."
		}
		rows = append(rows, []string{
			shortID(e.ID), strconv.Itoa(e.DayNumber), formatStamp(e.Timestamp),
			fmt.Sprintf("%d/%d/%d", e.Energy, e.Clarity, e.Mood),
			strings.Join(e.Tags, ","), e.ContributionStatus, content,
		})
	}
	printTable(w, []string{"ID", "DAY", "TIME", "E/C/M", "TAGS", "SYNC", "CONTENT"}, rows)
	fmt.Fprintf(w, "Total: %d entr(ies)\n", len(entries))
}
