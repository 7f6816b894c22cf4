package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"donecast/internal/session"
)

// terminalReviewer prompts for each candidate edit on the terminal. A "q"
// answer abandons the sub-flow, which resolves the kind to applying no edits.
type terminalReviewer struct {
	mu        sync.Mutex
	in        *bufio.Scanner
	out       io.Writer
	acceptAll bool
}

func (r *terminalReviewer) Review(ctx context.Context, kind session.IntentKind, items []session.ReviewItem) ([]session.ReviewItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acceptAll {
		return items, true
	}

	fmt.Fprintf(r.out, "\n%s review: %d candidate(s)\n", reviewTitle(kind), len(items))
	var accepted []session.ReviewItem
	for i, item := range items {
		fmt.Fprintf(r.out, "  %d. [%s - %s] %s\n", i+1,
			formatSeconds(item.StartSeconds), formatSeconds(item.EndSeconds), item.Text)
		fmt.Fprint(r.out, "     apply this edit? [y/N/q] ")
		if ctx.Err() != nil {
			return nil, false
		}
		if !r.in.Scan() {
			return accepted, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		switch strings.ToLower(strings.TrimSpace(r.in.Text())) {
		case "q", "quit":
			return nil, false
		case "y", "yes":
			accepted = append(accepted, item)
		}
	}
	return accepted, true
}

// askManualResolutions collects direct yes/no answers after intent detection
// exhausted its retries.
func (r *terminalReviewer) askManualResolutions(machine *session.Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := machine.Snapshot()
	for _, kind := range session.AllIntentKinds() {
		if snap.Intents[kind].Resolved() {
			continue
		}
		fmt.Fprintf(r.out, "  apply %s edits automatically? [y/N] ", reviewTitle(kind))
		answer := ""
		if r.in.Scan() {
			answer = strings.ToLower(strings.TrimSpace(r.in.Text()))
		}
		if answer == "y" || answer == "yes" {
			machine.ResolveIntent(kind, session.ResolutionYes)
		} else {
			machine.ResolveIntent(kind, session.ResolutionNo)
		}
	}
}

func reviewTitle(kind session.IntentKind) string {
	switch kind {
	case session.IntentFlubber:
		return "retake"
	case session.IntentIntern:
		return "narrator"
	case session.IntentSFX:
		return "sound effect"
	default:
		return string(kind)
	}
}

func formatSeconds(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	minutes := int(d.Minutes())
	return fmt.Sprintf("%d:%02d", minutes, int(d.Seconds())-minutes*60)
}

// parsePlan validates the publish flags before any network call happens.
func parsePlan(mode, at string) (session.PublishPlan, error) {
	plan := session.PublishPlan{Visibility: "public"}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "draft":
		plan.Mode = session.PublishDraft
	case "now":
		plan.Mode = session.PublishNow
	case "schedule":
		if strings.TrimSpace(at) == "" {
			return session.PublishPlan{}, fmt.Errorf("--at is required with --publish schedule")
		}
		ts, err := parseScheduleTime(at)
		if err != nil {
			return session.PublishPlan{}, err
		}
		plan.Mode = session.PublishSchedule
		plan.ScheduledAt = ts
	default:
		return session.PublishPlan{}, fmt.Errorf("unknown publish mode %q (want now, draft, or schedule)", mode)
	}
	return plan, nil
}

func parseScheduleTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04", value, time.Local); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse schedule time %q (want RFC 3339 or \"YYYY-MM-DD HH:MM\")", value)
}
