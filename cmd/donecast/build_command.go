package main

import (
	"bufio"
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

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"donecast/internal/answercache"
	"donecast/internal/notifications"
	"donecast/internal/orchestrator"
	"donecast/internal/services/producer"
	"donecast/internal/session"
)

type buildFlags struct {
	templateID  string
	audio       string
	title       string
	description string
	cover       string
	publishMode string
	publishAt   string
	voices      []string
	acceptAll   bool
}

func newBuildCommand(cctx *commandContext) *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Assemble and publish one episode",
		Long: `Build drives a full episode session: it uploads or selects the source
audio, waits for the transcript, resolves detected retake/narrator/sound-effect
intents (prompting for review where needed), checks the remaining processing
minutes, dispatches assembly, and fires the publish plan when the job
completes. Ctrl-C cancels the session at any point.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, cctx, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.templateID, "template", "t", "", "Segment template identifier")
	cmd.Flags().StringVarP(&flags.audio, "audio", "a", "", "Audio file to upload, or an existing audio reference")
	cmd.Flags().StringVar(&flags.title, "title", "", "Episode title")
	cmd.Flags().StringVar(&flags.description, "description", "", "Episode description")
	cmd.Flags().StringVar(&flags.cover, "cover", "", "Cover art path")
	cmd.Flags().StringVar(&flags.publishMode, "publish", "draft", "Publish mode: now, draft, or schedule")
	cmd.Flags().StringVar(&flags.publishAt, "at", "", "Scheduled publish time (with --publish schedule)")
	cmd.Flags().StringArrayVar(&flags.voices, "voice", nil, "TTS voice override as segment=voice (repeatable)")
	cmd.Flags().BoolVar(&flags.acceptAll, "yes", false, "Accept every candidate edit without prompting")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("audio")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func runBuild(cmd *cobra.Command, cctx *commandContext, flags buildFlags) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := cctx.ensureLogger()
	if err != nil {
		return err
	}

	plan, err := parsePlan(flags.publishMode, flags.publishAt)
	if err != nil {
		return err
	}
	voices, err := parseVoiceOverrides(flags.voices)
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(os.TempDir(), "donecast-build.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire build lock: %w", err)
	}
	if !locked {
		return errors.New("another donecast build is already running")
	}
	defer func() { _ = lock.Unlock() }()

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := answercache.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open answer cache: %w", err)
	}
	defer func() { _ = cache.Close() }()

	machine := session.NewMachine(logger, cfg.ScheduleMinLead())
	client := producer.NewClient(cfg, logger)
	notifier := notifications.NewService(cfg)
	orch := orchestrator.New(runCtx, cfg, machine, client, notifier, cache, logger)
	go func() {
		<-runCtx.Done()
		orch.Cancel()
	}()

	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	reviewer := &terminalReviewer{
		in:        bufio.NewScanner(cmd.InOrStdin()),
		out:       out,
		acceptAll: flags.acceptAll,
	}
	orch.SetReviewHandler(reviewer)

	fmt.Fprintln(out, renderSectionHeader("Episode build", colorize))

	orch.SelectTemplate(flags.templateID)
	for segment, voice := range voices {
		machine.SetVoiceOverride(segment, voice)
	}
	if rej := machine.Advance(session.StepAudioSelect); rej != nil {
		return errors.New(rej.String())
	}

	audioRef, err := selectOrUploadAudio(runCtx, orch, flags.audio, out)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderStatusLine("audio", statusOK, audioRef, colorize))

	if err := awaitIntentResolution(runCtx, machine, reviewer, out, colorize); err != nil {
		return err
	}

	for _, step := range []session.Step{session.StepSegmentCustomize, session.StepCoverArt, session.StepDetailsAndSchedule} {
		if rej := machine.Advance(step); rej != nil {
			return errors.New(rej.String())
		}
	}
	machine.SetDetails(session.EpisodeDetails{
		Title:       flags.title,
		Description: flags.description,
		CoverPath:   flags.cover,
	})
	machine.SetPlan(plan)

	quota, err := orch.RunPrecheck(runCtx)
	if err != nil {
		return fmt.Errorf("minutes precheck: %w", err)
	}
	renderQuota(out, quota)
	if !quota.Allowed {
		return fmt.Errorf("build needs %.0f minutes but only %.0f remain (renews %s)",
			quota.MinutesRequired, quota.MinutesRemaining, formatRenewal(quota.RenewalDate))
	}

	if rej := machine.Advance(session.StepAssembleAndPublish); rej != nil {
		return errors.New(rej.String())
	}
	rej, err := orch.Dispatch(runCtx)
	if err != nil {
		return err
	}
	if rej != nil {
		return errors.New(rej.String())
	}
	snap := machine.Snapshot()
	fmt.Fprintln(out, renderStatusLine("assembly", statusInfo, "job "+snap.Job.ID, colorize))

	if err := awaitJob(runCtx, machine); err != nil {
		return err
	}
	snap = machine.Snapshot()
	if snap.Job.Status == session.JobError {
		fmt.Fprintln(out, renderStatusLine("assembly", statusError, snap.Job.ErrorMessage, colorize))
		return fmt.Errorf("assembly failed: %s", snap.Job.ErrorMessage)
	}
	fmt.Fprintln(out, renderStatusLine("assembly", statusOK, "episode "+snap.Job.EpisodeID, colorize))

	reportPublishOutcome(runCtx, machine, cfg.ScheduleMinLead(), out, colorize)
	renderBuildSummary(out, machine.Snapshot())
	return nil
}

func selectOrUploadAudio(ctx context.Context, orch *orchestrator.Orchestrator, audio string, out io.Writer) (string, error) {
	info, err := os.Stat(audio)
	if err != nil || info.IsDir() {
		// Not a local file: treat the flag as an existing backend reference.
		orch.SelectAudio(ctx, audio)
		return audio, nil
	}

	lastPercent := -1
	ref, err := orch.UploadAudio(ctx, audio, func(sent, total int64) {
		if total <= 0 {
			return
		}
		percent := int(sent * 100 / total)
		if percent != lastPercent {
			lastPercent = percent
			fmt.Fprintf(out, "\r  uploading %s... %3d%%", filepath.Base(audio), percent)
		}
	})
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return ref, nil
}

// awaitIntentResolution blocks until every intent kind is answered. Review
// prompts fire from the detection pipeline; if detection exhausted its
// retries, the questions are asked directly.
func awaitIntentResolution(ctx context.Context, machine *session.Machine, reviewer *terminalReviewer, out io.Writer, colorize bool) error {
	fmt.Fprintln(out, renderStatusLine("intents", statusInfo, "waiting for detection", colorize))
	err := waitUntil(ctx, func() bool {
		snap := machine.Snapshot()
		return snap.IntentsResolved() || snap.Intents[session.IntentFlubber].DetectionFailed
	})
	if err != nil {
		return err
	}

	if !machine.Snapshot().IntentsResolved() {
		fmt.Fprintln(out, renderStatusLine("intents", statusWarn, "detection unavailable; answering manually", colorize))
		reviewer.askManualResolutions(machine)
	}
	fmt.Fprintln(out, renderStatusLine("intents", statusOK, summarizeIntents(machine.Snapshot()), colorize))
	return nil
}

func awaitJob(ctx context.Context, machine *session.Machine) error {
	return waitUntil(ctx, func() bool {
		snap := machine.Snapshot()
		return snap.Job != nil && snap.Job.Status.Terminal()
	})
}

// reportPublishOutcome waits for the auto-publish result when the plan calls
// for one. The publish fires from the job poller, so a short grace window is
// enough; a timeout means the episode needs manual attention.
func reportPublishOutcome(ctx context.Context, machine *session.Machine, minLead time.Duration, out io.Writer, colorize bool) {
	snap := machine.Snapshot()
	plan := snap.Plan
	if snap.CompletedPlan != nil {
		plan = *snap.CompletedPlan
	}

	switch plan.Mode {
	case session.PublishDraft:
		fmt.Fprintln(out, renderStatusLine("publish", statusInfo, "kept as draft", colorize))
		return
	case session.PublishSchedule:
		if time.Until(plan.ScheduledAt) < minLead {
			fmt.Fprintln(out, renderStatusLine("publish", statusWarn,
				"scheduled time was too close; kept as draft", colorize))
			return
		}
	}

	if waitUntilFor(ctx, 30*time.Second, func() bool {
		return machine.Snapshot().PublishedID != ""
	}) {
		snap = machine.Snapshot()
		switch plan.Mode {
		case session.PublishNow:
			fmt.Fprintln(out, renderStatusLine("publish", statusOK, "published as "+snap.PublishedID, colorize))
		default:
			fmt.Fprintln(out, renderStatusLine("publish", statusOK,
				fmt.Sprintf("scheduled for %s as %s", plan.ScheduledAt.Local().Format("2006-01-02 15:04"), snap.PublishedID), colorize))
		}
		return
	}
	fmt.Fprintln(out, renderStatusLine("publish", statusWarn,
		"publish not confirmed; check the dashboard", colorize))
}

func renderQuota(out io.Writer, quota session.QuotaSnapshot) {
	renderTable(out,
		[]string{"Allowed", "Minutes needed", "Minutes remaining", "Renews"},
		[][]string{{
			yesNo(quota.Allowed),
			fmt.Sprintf("%.0f", quota.MinutesRequired),
			fmt.Sprintf("%.0f", quota.MinutesRemaining),
			formatRenewal(quota.RenewalDate),
		}},
		2, 3)
}

func renderBuildSummary(out io.Writer, snap *session.BuildSession) {
	rows := [][]string{
		{"Title", snap.Details.Title},
		{"Audio", snap.AudioRef},
		{"Template", snap.TemplateID},
	}
	if snap.Job != nil {
		rows = append(rows,
			[]string{"Job", snap.Job.ID},
			[]string{"Episode", snap.Job.EpisodeID})
	}
	if snap.PublishedID != "" {
		rows = append(rows, []string{"Published", snap.PublishedID})
	}
	renderTable(out, []string{"Field", "Value"}, rows)
}

func summarizeIntents(snap *session.BuildSession) string {
	parts := make([]string, 0, 3)
	for _, kind := range session.AllIntentKinds() {
		parts = append(parts, fmt.Sprintf("%s=%s", kind, snap.Intents[kind].Resolution))
	}
	return strings.Join(parts, " ")
}

func formatRenewal(ts time.Time) string {
	if ts.IsZero() {
		return "unknown"
	}
	return ts.Format("2006-01-02")
}

func parseVoiceOverrides(values []string) (map[string]string, error) {
	overrides := make(map[string]string, len(values))
	for _, value := range values {
		segment, voice, ok := strings.Cut(value, "=")
		segment = strings.TrimSpace(segment)
		voice = strings.TrimSpace(voice)
		if !ok || segment == "" || voice == "" {
			return nil, fmt.Errorf("invalid --voice %q (want segment=voice)", value)
		}
		overrides[segment] = voice
	}
	return overrides, nil
}

func waitUntil(ctx context.Context, cond func() bool) error {
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func waitUntilFor(ctx context.Context, limit time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return cond()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return cond()
}
