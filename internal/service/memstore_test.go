package service_test

import (
	"context"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres repositories. The mutex
// serializes everything, which makes it behave like the row locks and
// conditional updates the real store relies on, so the services see the same
// semantics under test.
type memStore struct {
	mu        sync.Mutex
	nextJobID int
	nextMsgID int64
	campaigns map[int]*model.Campaign
	jobs      map[int]*model.Job
	messages  map[int64]*model.Message
	ops       map[int64]*model.Message
	stats     map[int]*model.Statistics
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: make(map[int]*model.Campaign),
		jobs:      make(map[int]*model.Job),
		messages:  make(map[int64]*model.Message),
		ops:       make(map[int64]*model.Message),
		stats:     make(map[int]*model.Statistics),
	}
}

func (s *memStore) addCampaign(c model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = &c
}

func (s *memStore) addMessage(m model.Message) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	m.ID = s.nextMsgID
	s.messages[m.ID] = &m
	return m.ID
}

func (s *memStore) message(id int64) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

func (s *memStore) job(id int) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) setJob(j model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = &j
}

func (s *memStore) statistics(campaignID int) model.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stats[campaignID]; st != nil {
		return *st
	}
	return model.Statistics{CampaignID: campaignID}
}

func (s *memStore) opCount(campaignID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, op := range s.ops {
		if op.CampaignID == campaignID {
			n++
		}
	}
	return n
}

// --- CampaignStore ---

func (s *memStore) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

// --- JobStore / TriggerJobStore ---

func (s *memStore) Create(ctx context.Context, campaignID, sendRate int, visibleAt *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJobID++
	now := time.Now()
	vis := now
	if visibleAt != nil {
		vis = *visibleAt
	}
	s.jobs[s.nextJobID] = &model.Job{
		ID: s.nextJobID, CampaignID: campaignID, SendRate: sendRate,
		Status: model.JobReady, VisibleAt: vis, CreatedAt: now, UpdatedAt: now,
	}
	return s.nextJobID, nil
}

func (s *memStore) ClaimNext(ctx context.Context, workerID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var best *model.Job
	for _, j := range s.jobs {
		if j.Status != model.JobReady || j.VisibleAt.After(now) {
			continue
		}
		if c := s.campaigns[j.CampaignID]; c == nil || c.Halted {
			continue
		}
		if best == nil || j.VisibleAt.Before(best.VisibleAt) || (j.VisibleAt.Equal(best.VisibleAt) && j.ID < best.ID) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = model.JobEnqueued
	w := workerID
	best.WorkerID = &w
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

func (s *memStore) Transition(ctx context.Context, jobID int, from, to model.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return true, nil
}

func (s *memStore) Status(ctx context.Context, jobID int) (model.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Status, nil
}

func (s *memStore) ResumeAbandoned(ctx context.Context, workerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.WorkerID != nil && *j.WorkerID == workerID &&
			(j.Status == model.JobEnqueued || j.Status == model.JobSending) {
			j.Status = model.JobReady
			j.WorkerID = nil
			j.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *memStore) StopCampaign(ctx context.Context, campaignID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.CampaignID == campaignID && j.Status != model.JobLogged {
			j.Status = model.JobStopped
			j.UpdatedAt = time.Now()
			n++
		}
	}
	if c := s.campaigns[campaignID]; c != nil {
		c.Halted = true
	}
	return n, nil
}

func (s *memStore) RetryCampaign(ctx context.Context, campaignID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.CampaignID == campaignID && j.Status != model.JobLogged {
			return false, nil
		}
	}
	reset := false
	for _, j := range s.jobs {
		if j.CampaignID == campaignID {
			j.Status = model.JobReady
			j.WorkerID = nil
			j.VisibleAt = time.Now()
			j.UpdatedAt = time.Now()
			reset = true
		}
	}
	if reset {
		if c := s.campaigns[campaignID]; c != nil {
			c.Halted = false
		}
	}
	return reset, nil
}

// --- MessageStore ---

func (s *memStore) Materialize(ctx context.Context, ch model.Channel, campaignID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var n int64
	for _, m := range s.messages {
		if m.CampaignID != campaignID || m.DequeuedAt != nil {
			continue
		}
		if m.Status != model.StatusUnsent && m.Status != model.StatusError {
			continue
		}
		m.DequeuedAt = &now
		m.Status = model.StatusUnsent
		m.ProviderMessageID = nil
		m.ErrorCode = nil
		m.SentAt = nil
		m.DeliveredAt = nil
		m.ReceivedAt = nil
		s.ops[m.ID] = &model.Message{
			ID: m.ID, CampaignID: m.CampaignID, Recipient: m.Recipient,
			Params: m.Params, Status: model.StatusUnsent, DequeuedAt: &now,
		}
		n++
	}
	return n, nil
}

func (s *memStore) ClaimBatch(ctx context.Context, ch model.Channel, campaignID, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	batch := []model.Message{}
	for _, op := range s.ops {
		if len(batch) >= limit {
			break
		}
		if op.CampaignID != campaignID || op.Status != model.StatusUnsent {
			continue
		}
		op.Status = model.StatusSending
		op.SentAt = &now
		batch = append(batch, *op)
	}
	return batch, nil
}

func (s *memStore) FinishOp(ctx context.Context, ch model.Channel, opID int64, status model.MessageStatus, providerMessageID, errorCode *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[opID]
	if !ok || op.Status != model.StatusSending {
		return nil
	}
	op.Status = status
	op.ProviderMessageID = providerMessageID
	op.ErrorCode = errorCode
	return nil
}

// --- ReceiptStore ---

func (s *memStore) ApplyReceipt(ctx context.Context, ch model.Channel, rcpt repository.Receipt) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply := func(row *model.Message) {
		row.Status = rcpt.Status
		if rcpt.ErrorCode != nil {
			row.ErrorCode = rcpt.ErrorCode
		}
		if rcpt.DeliveredAt != nil {
			row.DeliveredAt = rcpt.DeliveredAt
		}
		if rcpt.ReceivedAt != nil {
			row.ReceivedAt = rcpt.ReceivedAt
		}
	}
	for _, op := range s.ops {
		if op.ProviderMessageID != nil && *op.ProviderMessageID == rcpt.ProviderMessageID {
			apply(op)
			return "op", op.CampaignID, nil
		}
	}
	for _, m := range s.messages {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == rcpt.ProviderMessageID {
			apply(m)
			return "message", m.CampaignID, nil
		}
	}
	return "none", 0, nil
}

// --- StatsRefresher ---

func (s *memStore) Refresh(ctx context.Context, ch model.Channel, campaignID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked(campaignID)
	return nil
}

func (s *memStore) refreshLocked(campaignID int) {
	st := &model.Statistics{CampaignID: campaignID, UpdatedAt: time.Now()}
	for _, m := range s.messages {
		if m.CampaignID != campaignID {
			continue
		}
		switch m.Status {
		case model.StatusSuccess:
			st.Sent++
		case model.StatusError:
			st.Errored++
		case model.StatusInvalid:
			st.Invalid++
		default:
			st.Unsent++
		}
	}
	s.stats[campaignID] = st
}

// --- ReconcileStore ---

func (s *memStore) ReconcileNext(ctx context.Context, staleAfter time.Duration) (*model.ReconcileOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Status != model.JobSent && j.Status != model.JobStopped {
			continue
		}

		inFlight := 0
		var newest time.Time
		for _, op := range s.ops {
			if op.CampaignID == j.CampaignID && op.Status == model.StatusSending && op.SentAt != nil {
				inFlight++
				if op.SentAt.After(newest) {
					newest = *op.SentAt
				}
			}
		}
		forced := false
		if inFlight > 0 {
			if newest.After(time.Now().Add(-staleAfter)) {
				continue
			}
			forced = true
		}

		var merged int64
		for id, op := range s.ops {
			if op.CampaignID != j.CampaignID {
				continue
			}
			m := s.messages[id]

			opStatus := op.Status
			opCode := op.ErrorCode
			if opStatus == model.StatusSending {
				opStatus = model.StatusError
				code := repository.StaleDispatchCode
				if opCode == nil {
					opCode = &code
				}
			}
			if !m.Status.Terminal() {
				m.Status = opStatus
			}
			if m.ProviderMessageID == nil {
				m.ProviderMessageID = op.ProviderMessageID
			}
			if m.ErrorCode == nil {
				m.ErrorCode = opCode
			}
			m.SentAt = op.SentAt
			m.DeliveredAt = op.DeliveredAt
			if m.ReceivedAt == nil {
				m.ReceivedAt = op.ReceivedAt
			}
			m.DequeuedAt = nil
			delete(s.ops, id)
			merged++
		}

		s.refreshLocked(j.CampaignID)
		j.Status = model.JobLogged
		j.WorkerID = nil
		j.UpdatedAt = time.Now()

		ch := model.ChannelSMS
		if c := s.campaigns[j.CampaignID]; c != nil {
			ch = c.Channel
		}
		return &model.ReconcileOutcome{
			JobID: j.ID, CampaignID: j.CampaignID, Channel: ch,
			Merged: merged, Forced: forced,
		}, nil
	}
	return nil, nil
}
