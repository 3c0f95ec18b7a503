// Package scan_scheduler drives the adaptive scan cadence: a periodic tick
// that re-evaluates every monitored conversation, triggers due Tier-1 passes,
// and runs the Tier-2 heartbeat safety net for escalations a missed webhook
// would otherwise lose.
package scan_scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/budget"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/media_client"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/small_agent"
)

// Tier1Scanner runs a Tier-1 pass over a batch of new messages.
type Tier1Scanner interface {
	Scan(ctx context.Context, chat *models.Chat, subject *models.Subject, msgs []*models.Message) (*small_agent.Outcome, error)
}

// Tier2Evaluator runs a Tier-2 pass over a conversation window.
type Tier2Evaluator interface {
	Evaluate(ctx context.Context, chat *models.Chat, subject *models.Subject, from, to time.Time) (*models.SmartDecision, error)
}

// Captioner retries caption/transcript derivation for media messages whose
// ingest-time captioning failed.
type Captioner interface {
	Caption(ctx context.Context, mediaRef, modality string) (*media_client.CaptionResponse, error)
}

// ScanReport summarizes an on-demand subject scan.
type ScanReport struct {
	SubjectID    int64  `json:"subject_id"`
	Skipped      bool   `json:"skipped"`
	Reason       string `json:"reason,omitempty"`
	ChatsScanned int    `json:"chats_scanned"`
}

// Scheduler owns the periodic tick and the on-demand scan entry point.
type Scheduler struct {
	subjects    repository.SubjectRepository
	chats       repository.ChatRepository
	messages    repository.MessageRepository
	checkpoints repository.CheckpointRepository
	ledger      *budget.Ledger
	captioner   Captioner
	tier1       Tier1Scanner
	tier2       Tier2Evaluator
	cfg         config.SchedulerConfig
	logger      *zap.Logger
	cron        *cron.Cron
	now         func() time.Time
}

func NewScheduler(
	subjects repository.SubjectRepository,
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	checkpoints repository.CheckpointRepository,
	ledger *budget.Ledger,
	captioner Captioner,
	tier1 Tier1Scanner,
	tier2 Tier2Evaluator,
	cfg config.SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		subjects:    subjects,
		chats:       chats,
		messages:    messages,
		checkpoints: checkpoints,
		ledger:      ledger,
		captioner:   captioner,
		tier1:       tier1,
		tier2:       tier2,
		cfg:         cfg,
		logger:      logger,
		cron:        cron.New(),
		now:         time.Now,
	}
}

// Start registers and begins the periodic tick.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %dm", s.cfg.TickMinutes)
	_, err := s.cron.AddFunc(spec, func() {
		tickCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TickMinutes)*time.Minute)
		defer cancel()
		s.Tick(tickCtx)
	})
	if err != nil {
		return fmt.Errorf("registering scheduler tick %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("Scan scheduler started", zap.Int("tick_minutes", s.cfg.TickMinutes))
	return nil
}

// Stop halts the tick and waits for a running tick to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scan scheduler stopped")
}

// Tick re-evaluates every conversation of every monitored subject.
// Conversations share no checkpoint state, so they are processed as
// independent units of work in parallel; per-conversation failures are
// absorbed and logged so the rest of the tick keeps going.
func (s *Scheduler) Tick(ctx context.Context) {
	subjects, err := s.subjects.GetMonitoredSubjects()
	if err != nil {
		// Cannot reach the datastore at all: fatal for this run.
		s.logger.Error("Scheduler tick aborted: failed to load monitored subjects", zap.Error(err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallelConversations)

	for _, subject := range subjects {
		check, err := s.ledger.CheckBudget(subject.ID)
		if err != nil {
			s.logger.Error("Budget check failed, assuming no throttling",
				zap.Int64("subject_id", subject.ID), zap.Error(err))
			check = budget.Check{FallbackAllowed: true}
		}

		chats, err := s.chats.GetChatsBySubject(subject.ID)
		if err != nil {
			s.logger.Error("Failed to load chats for subject",
				zap.Int64("subject_id", subject.ID), zap.Error(err))
			continue
		}

		for _, chat := range chats {
			subject, chat, check := subject, chat, check
			g.Go(func() error {
				if err := s.processChat(gctx, subject, chat, check); err != nil {
					s.logger.Error("Conversation scan failed, continuing tick",
						zap.Int64("chat_id", chat.ID),
						zap.Int64("subject_id", subject.ID),
						zap.Error(err))
				}
				return nil
			})
		}
	}

	_ = g.Wait()
}

func (s *Scheduler) processChat(ctx context.Context, subject *models.Subject, chat *models.Chat, check budget.Check) error {
	cp, err := s.checkpoints.GetCheckpoint(chat.ID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		cp = &models.ScanCheckpoint{ChatID: chat.ID, LastActivityAt: chat.LastActivityAt}
	}

	now := s.now()
	interval, state := OptimalInterval(s.cfg, now, cp.LastActivityAt, check.SoftLimitExceeded)
	if interval != cp.ScanIntervalMinutes {
		if err := s.checkpoints.SetScanInterval(chat.ID, interval); err != nil {
			s.logger.Error("Failed to persist scan interval", zap.Int64("chat_id", chat.ID), zap.Error(err))
		}
		s.logger.Debug("Scan interval adjusted",
			zap.Int64("chat_id", chat.ID),
			zap.String("state", state),
			zap.Int("interval_minutes", interval))
	}

	if s.tier1Due(cp, now, interval) {
		msgs, err := s.dueMessages(chat, cp)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			s.backfillCaptions(ctx, subject, msgs)
			outcome, err := s.tier1.Scan(ctx, chat, subject, msgs)
			if err != nil {
				// Soft failure: the next tick retries naturally.
				s.logger.Warn("Tier-1 scan failed, will retry on next tick",
					zap.Int64("chat_id", chat.ID), zap.Error(err))
			} else if outcome.ShouldTriggerSmart {
				if _, err := s.tier2.Evaluate(ctx, chat, subject, now.Add(-time.Hour), now); err != nil {
					s.logger.Warn("Tier-2 escalation failed, heartbeat will retry",
						zap.Int64("chat_id", chat.ID), zap.Error(err))
				}
			}
		}
	}

	if s.heartbeatDue(cp, now) {
		if _, err := s.tier2.Evaluate(ctx, chat, subject, now.Add(-time.Hour), now); err != nil {
			s.logger.Warn("Tier-2 heartbeat failed, will retry on next tick",
				zap.Int64("chat_id", chat.ID), zap.Error(err))
		}
	}

	return nil
}

// dueMessages is the Tier-1 work set: messages newer than the last Tier-1
// stamp, unioned with the checkpoint's pending batch. Pending ids can point
// at messages older than the stamp (a delayed webhook, or a batch parked
// while a synchronous immediate scan moved the stamp forward), so the stamp
// alone would lose them. Oldest first.
func (s *Scheduler) dueMessages(chat *models.Chat, cp *models.ScanCheckpoint) ([]*models.Message, error) {
	msgs, err := s.messages.GetMessagesSince(chat.ID, timeOrZero(cp.LastTier1ScanAt))
	if err != nil {
		return nil, fmt.Errorf("load new messages: %w", err)
	}
	if len(cp.PendingMessageIDs) == 0 {
		return msgs, nil
	}

	seen := make(map[int64]bool, len(msgs))
	for _, msg := range msgs {
		seen[msg.ID] = true
	}
	missing := make([]int64, 0, len(cp.PendingMessageIDs))
	for _, id := range cp.PendingMessageIDs {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return msgs, nil
	}

	pending, err := s.messages.GetMessagesByIDs(missing)
	if err != nil {
		return nil, fmt.Errorf("load pending messages: %w", err)
	}
	msgs = append(msgs, pending...)
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// backfillCaptions retries captioning for media messages still lacking one,
// so Tier-1 sees the derived text. Failures leave the caption null and the
// message flows through regardless.
func (s *Scheduler) backfillCaptions(ctx context.Context, subject *models.Subject, msgs []*models.Message) {
	if s.captioner == nil {
		return
	}
	for _, msg := range msgs {
		if msg.Modality == models.ModalityText || msg.Caption != nil || msg.MediaRef == nil {
			continue
		}
		resp, err := s.captioner.Caption(ctx, *msg.MediaRef, msg.Modality)
		if err != nil {
			s.logger.Warn("Caption backfill failed, scanning without caption",
				zap.Int64("message_id", msg.ID), zap.Error(err))
			continue
		}
		if err := s.ledger.RecordUsage(subject.ID, budget.TierCaption, resp.Model, resp.InputTokens, resp.OutputTokens); err != nil {
			s.logger.Error("Failed to record caption usage", zap.Int64("subject_id", subject.ID), zap.Error(err))
		}
		if err := s.messages.UpdateCaption(msg.ID, resp.Caption); err != nil {
			s.logger.Error("Failed to persist backfilled caption", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
		caption := resp.Caption
		msg.Caption = &caption
	}
}

// tier1Due applies the interval gate. A chat never scanned before is due
// immediately.
func (s *Scheduler) tier1Due(cp *models.ScanCheckpoint, now time.Time, intervalMinutes int) bool {
	if cp.LastTier1ScanAt == nil {
		return true
	}
	return now.Sub(*cp.LastTier1ScanAt) >= time.Duration(intervalMinutes)*time.Minute
}

// heartbeatDue is the safety net: even without a Tier-1 trigger, a recently
// active conversation gets a Tier-2 pass at the fixed heartbeat interval.
func (s *Scheduler) heartbeatDue(cp *models.ScanCheckpoint, now time.Time) bool {
	if cp.LastActivityAt == nil {
		return false
	}
	if now.Sub(*cp.LastActivityAt) > time.Duration(s.cfg.HeartbeatLookbackMinutes)*time.Minute {
		return false
	}
	if cp.LastTier2ScanAt == nil {
		return true
	}
	return now.Sub(*cp.LastTier2ScanAt) >= time.Duration(s.cfg.HeartbeatIntervalMinutes)*time.Minute
}

// ScanSubject is the on-demand scan entry point: Tier-1 over new messages,
// then unconditionally Tier-2 over the last hour, for every conversation of
// the subject. force bypasses interval gating but never budget gating (the
// ledger is consulted inside the Tier-2 fallback path as usual). An unknown
// or monitoring-disabled subject yields a skipped report, not an error.
func (s *Scheduler) ScanSubject(ctx context.Context, subjectID int64, force bool) (*ScanReport, error) {
	subject, err := s.subjects.GetSubjectByID(subjectID)
	if err != nil {
		return nil, fmt.Errorf("load subject %d: %w", subjectID, err)
	}
	if subject == nil {
		return &ScanReport{SubjectID: subjectID, Skipped: true, Reason: "subject not found"}, nil
	}
	if !subject.MonitoringEnabled {
		return &ScanReport{SubjectID: subjectID, Skipped: true, Reason: "monitoring disabled"}, nil
	}

	chats, err := s.chats.GetChatsBySubject(subjectID)
	if err != nil {
		return nil, fmt.Errorf("load chats for subject %d: %w", subjectID, err)
	}

	report := &ScanReport{SubjectID: subjectID}
	now := s.now()
	for _, chat := range chats {
		cp, err := s.checkpoints.GetCheckpoint(chat.ID)
		if err != nil {
			s.logger.Error("Failed to load checkpoint, scanning anyway",
				zap.Int64("chat_id", chat.ID), zap.Error(err))
			cp = nil
		}
		if cp == nil {
			cp = &models.ScanCheckpoint{ChatID: chat.ID, LastActivityAt: chat.LastActivityAt}
		}

		if !force {
			interval := cp.ScanIntervalMinutes
			if interval == 0 {
				interval, _ = OptimalInterval(s.cfg, now, cp.LastActivityAt, false)
			}
			if !s.tier1Due(cp, now, interval) {
				continue
			}
		}

		msgs, err := s.dueMessages(chat, cp)
		if err != nil {
			s.logger.Error("Failed to load messages for on-demand scan",
				zap.Int64("chat_id", chat.ID), zap.Error(err))
			continue
		}
		if len(msgs) > 0 {
			s.backfillCaptions(ctx, subject, msgs)
			if _, err := s.tier1.Scan(ctx, chat, subject, msgs); err != nil {
				s.logger.Warn("On-demand tier-1 scan failed",
					zap.Int64("chat_id", chat.ID), zap.Error(err))
			}
		}

		if _, err := s.tier2.Evaluate(ctx, chat, subject, now.Add(-time.Hour), now); err != nil {
			s.logger.Warn("On-demand tier-2 evaluation failed",
				zap.Int64("chat_id", chat.ID), zap.Error(err))
		}
		report.ChatsScanned++
	}

	return report, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
