package mq

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingDelivery is a received but not yet acknowledged message.
type pendingDelivery struct {
	delivery  *Delivery
	visibleAt time.Time
	partition int
	offset    int64
}

// pendingSet tracks in-flight deliveries by receipt and by receive attempt id,
// and hands expired ones out again with a fresh receipt. Deliveries whose
// message outlived the retention window are dropped instead.
type pendingSet struct {
	mu         sync.Mutex
	visibility time.Duration
	retention  time.Duration
	now        func() time.Time

	byReceipt map[string]*pendingDelivery
	byAttempt map[string]string
}

func newPendingSet(visibility, retention time.Duration, now func() time.Time) *pendingSet {
	if now == nil {
		now = time.Now
	}
	return &pendingSet{
		visibility: visibility,
		retention:  retention,
		now:        now,
		byReceipt:  make(map[string]*pendingDelivery),
		byAttempt:  make(map[string]string),
	}
}

// add registers a freshly received message.
func (s *pendingSet) add(topic string, msg *Message, attemptID string, partition int, offset int64) *Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Delivery{
		Receipt:   uuid.NewString(),
		AttemptID: attemptID,
		Topic:     topic,
		Message:   msg,
		Receives:  1,
	}
	s.byReceipt[d.Receipt] = &pendingDelivery{
		delivery:  d,
		visibleAt: s.now().Add(s.visibility),
		partition: partition,
		offset:    offset,
	}
	if attemptID != "" {
		s.byAttempt[attemptID] = d.Receipt
	}
	return d
}

// forAttempt returns the delivery already handed out for attemptID, if still pending.
func (s *pendingSet) forAttempt(topic, attemptID string) *Delivery {
	if attemptID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	receipt, ok := s.byAttempt[attemptID]
	if !ok {
		return nil
	}
	p, ok := s.byReceipt[receipt]
	if !ok || p.delivery.Topic != topic {
		delete(s.byAttempt, attemptID)
		return nil
	}
	return p.delivery
}

// claimExpired hands out the oldest delivery of topic whose visibility lapsed.
// Lapsed deliveries past the retention window are removed and returned as
// dropped so the caller can acknowledge them.
func (s *pendingSet) claimExpired(topic, attemptID string) (*Delivery, []*pendingDelivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var oldest *pendingDelivery
	var dropped []*pendingDelivery
	for receipt, p := range s.byReceipt {
		if p.delivery.Topic != topic || p.visibleAt.After(now) {
			continue
		}
		if s.outlived(p.delivery.Message, now) {
			delete(s.byReceipt, receipt)
			if p.delivery.AttemptID != "" {
				delete(s.byAttempt, p.delivery.AttemptID)
			}
			dropped = append(dropped, p)
			continue
		}
		if oldest == nil || p.visibleAt.Before(oldest.visibleAt) {
			oldest = p
		}
	}
	if oldest == nil {
		return nil, dropped
	}

	prev := oldest.delivery
	delete(s.byReceipt, prev.Receipt)
	if prev.AttemptID != "" {
		delete(s.byAttempt, prev.AttemptID)
	}
	next := &Delivery{
		Receipt:   uuid.NewString(),
		AttemptID: attemptID,
		Topic:     topic,
		Message:   prev.Message,
		Receives:  prev.Receives + 1,
	}
	oldest.delivery = next
	oldest.visibleAt = now.Add(s.visibility)
	s.byReceipt[next.Receipt] = oldest
	if attemptID != "" {
		s.byAttempt[attemptID] = next.Receipt
	}
	return next, dropped
}

// outlived reports whether msg is older than the retention window.
func (s *pendingSet) outlived(msg *Message, now time.Time) bool {
	if s.retention <= 0 || msg == nil || msg.Timestamp.IsZero() {
		return false
	}
	return now.Sub(msg.Timestamp) > s.retention
}

// remove drops a delivery on acknowledgement.
func (s *pendingSet) remove(receipt string) (*pendingDelivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byReceipt[receipt]
	if !ok {
		return nil, false
	}
	delete(s.byReceipt, receipt)
	if p.delivery.AttemptID != "" {
		delete(s.byAttempt, p.delivery.AttemptID)
	}
	return p, true
}

// release makes a delivery visible again right away.
func (s *pendingSet) release(receipt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byReceipt[receipt]
	if !ok {
		return false
	}
	p.visibleAt = s.now()
	if p.delivery.AttemptID != "" {
		delete(s.byAttempt, p.delivery.AttemptID)
	}
	return true
}

func (s *pendingSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byReceipt)
}
