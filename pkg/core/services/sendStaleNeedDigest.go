package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/internal/config"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/registry"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

// digestStateKey holds the last digest time in the meta table
const digestStateKey = "digest:last-sent"

const maxConcurrentReminders = 10

type digestState struct {
	LastSent time.Time `json:"lastSent"`
}

// FailedReminder is a stale need whose owner could not be notified
type FailedReminder struct {
	ResourceID string
	OwnerID    string
	Error      string
}

// FailedEmail is a digest recipient the mail could not be sent to
type FailedEmail struct {
	Recipient string
	Error     string
}

// DigestResult reports what a digest run did
type DigestResult struct {
	// Due is false when no schedule occurrence fell since the last digest
	Due bool
	// ClaimedElsewhere is set when another agent sent this digest first
	ClaimedElsewhere bool
	LastSent         time.Time
	NextAt           time.Time
	Stale            []model.Resource
	Reminded         []string
	FailedReminders  []FailedReminder
	Emailed          []string
	FailedEmails     []FailedEmail
}

// SendStaleNeedDigest reminds the owners of open needs nobody has picked up
// and mails a summary to the configured coordinators.
//
// The schedule is cfg.Digest.RRule. A run is due when an occurrence lies
// after the last digest and not after now; force skips that check. The
// first ever run is always due. Agents claim a run with a CAS on the meta
// entry, so concurrent runs send one digest.
func SendStaleNeedDigest(
	ctx context.Context,
	store kv.Store,
	resources ResourceRegistry,
	notifications NotificationSink,
	gmailClient GmailClient,
	cfg *config.Config,
	logger *zap.Logger,
	now time.Time,
	force bool,
) (*DigestResult, error) {
	if cfg.Digest == nil {
		return nil, errors.New("digest is not configured")
	}
	now = now.UTC()

	logger.Debug("Starting stale need digest", zap.Time("now", now), zap.Bool("force", force))

	// Step 1: Load last digest time
	state, version, err := kv.GetJSON[digestState](ctx, store, kv.TableMeta, digestStateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load digest state: %w", err)
	}

	result := &DigestResult{LastSent: state.LastSent}

	// Step 2: Check the schedule
	next, err := nextDigestAfter(cfg.Digest.RRule, state.LastSent)
	if err != nil {
		return nil, err
	}
	result.NextAt = next
	result.Due = force || state.LastSent.IsZero() || (!next.IsZero() && !next.After(now))

	if !result.Due {
		logger.Info("Digest not due", zap.Time("last_sent", state.LastSent), zap.Time("next_at", next))
		return result, nil
	}

	// Step 3: Claim this run
	claim, err := json.Marshal(digestState{LastSent: now})
	if err != nil {
		return nil, fmt.Errorf("failed to encode digest state: %w", err)
	}
	if _, err := store.CompareAndSet(ctx, kv.TableMeta, digestStateKey, version, claim); err != nil {
		if errors.Is(err, kv.ErrVersionMismatch) {
			logger.Info("Digest already sent by another agent")
			result.ClaimedElsewhere = true
			return result, nil
		}
		return nil, fmt.Errorf("failed to record digest time: %w", err)
	}
	result.LastSent = now
	if next, err := nextDigestAfter(cfg.Digest.RRule, now); err == nil {
		result.NextAt = next
	}

	// Step 4: Find stale needs
	stale, err := resources.List(ctx, registry.Filter{
		Type:          model.ResourceNeed,
		Status:        model.StatusOpen,
		UrgentOnly:    cfg.Digest.UrgentOnly,
		CreatedBefore: now.Add(-cfg.Digest.StaleAfter),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stale needs: %w", err)
	}
	result.Stale = stale
	logger.Debug("Found stale needs", zap.Int("count", len(stale)))

	if len(stale) == 0 {
		logger.Info("No stale needs")
		return result, nil
	}

	// Step 5: Remind owners
	result.Reminded, result.FailedReminders = remindOwners(ctx, notifications, logger, stale, now)

	// Step 6: Mail coordinators
	if gmailClient == nil || len(cfg.Digest.Recipients) == 0 {
		logger.Debug("No digest recipients configured, skipping email")
		return result, nil
	}

	subject := fmt.Sprintf("Relief digest: %d needs waiting for help", len(stale))
	body := digestBody(stale, now)

	for _, to := range cfg.Digest.Recipients {
		logger.Info("Sending digest email", zap.String("to", to))
		if err := gmailClient.SendEmail(to, subject, body); err != nil {
			logger.Warn("Failed to send digest email", zap.String("to", to), zap.Error(err))
			result.FailedEmails = append(result.FailedEmails, FailedEmail{Recipient: to, Error: err.Error()})
			continue
		}
		result.Emailed = append(result.Emailed, to)
	}

	logger.Debug("Stale need digest completed",
		zap.Int("stale", len(stale)),
		zap.Int("reminded", len(result.Reminded)),
		zap.Int("emailed", len(result.Emailed)))

	return result, nil
}

// nextDigestAfter returns the first schedule occurrence strictly after
// after. A rule without DTSTART is anchored at midnight UTC of after's day.
func nextDigestAfter(rule string, after time.Time) (time.Time, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid digest rrule: %w", err)
	}
	if opt.Dtstart.IsZero() {
		anchor := after.UTC()
		if anchor.IsZero() {
			anchor = time.Now().UTC()
		}
		opt.Dtstart = time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)
	}

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid digest rrule: %w", err)
	}
	return r.After(after, false), nil
}

// remindOwners notifies each stale need's owner, a bounded number at a time
func remindOwners(ctx context.Context, notifications NotificationSink, logger *zap.Logger, stale []model.Resource, now time.Time) ([]string, []FailedReminder) {
	type reminderResult struct {
		resourceID string
		ownerID    string
		err        error
	}

	resultChan := make(chan reminderResult, len(stale))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, maxConcurrentReminders)

	for _, res := range stale {
		wg.Add(1)
		go func(res model.Resource) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			_, err := notifications.Notify(ctx, res.OwnerID, model.Notification{
				Type:    model.NotificationReminder,
				Title:   "Still waiting for help",
				Message: fmt.Sprintf("No one has responded yet to: %s (posted %s ago)", res.Title, waitingFor(res, now)),
			})
			resultChan <- reminderResult{resourceID: res.ID, ownerID: res.OwnerID, err: err}
		}(res)
	}

	wg.Wait()
	close(resultChan)

	reminded := []string{}
	failed := []FailedReminder{}
	for r := range resultChan {
		if r.err != nil {
			logger.Warn("Failed to remind owner",
				zap.String("resource", r.resourceID),
				zap.String("owner", r.ownerID),
				zap.Error(r.err))
			failed = append(failed, FailedReminder{ResourceID: r.resourceID, OwnerID: r.ownerID, Error: r.err.Error()})
			continue
		}
		reminded = append(reminded, r.resourceID)
	}
	return reminded, failed
}

func digestBody(stale []model.Resource, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d open needs have had no response.\n\n", len(stale))
	for _, res := range stale {
		urgent := ""
		if res.Urgent {
			urgent = " [URGENT]"
		}
		fmt.Fprintf(&b, "- %s%s (%s, %s) waiting %s\n", res.Title, urgent, res.Category, res.Location, waitingFor(res, now))
		if res.OwnerName != "" {
			fmt.Fprintf(&b, "  posted by %s\n", res.OwnerName)
		}
	}
	b.WriteString("\nThanks\nRelief coordination\n")
	return b.String()
}

func waitingFor(res model.Resource, now time.Time) time.Duration {
	return now.Sub(res.Timestamp).Truncate(time.Minute)
}
