package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eventtix/psp-server/pkg/pay/data/payment"
)

type store struct {
	mu      sync.Mutex
	last    uint64
	records []*payment.Record
}

// New returns a new in memory payment.Store
func New() payment.Store {
	return &store{}
}

// Put implements payment.Store.Put
func (s *store) Put(_ context.Context, data *payment.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last++
	if item := s.find(data); item != nil {
		return payment.ErrAlreadyExists
	}

	if data.Id == 0 {
		data.Id = s.last
	}
	data.Version = 1
	data.CreatedAt = time.Now()
	data.UpdatedAt = data.CreatedAt

	cloned := data.Clone()
	s.records = append(s.records, &cloned)

	return nil
}

// Update implements payment.Store.Update
func (s *store) Update(_ context.Context, data *payment.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findByPaymentId(data.PaymentId)
	if item == nil {
		return payment.ErrNotFound
	}

	if item.Version != data.Version {
		return payment.ErrStaleRecord
	}

	if item.PspTransactionId != nil {
		if data.PspTransactionId == nil || *data.PspTransactionId != *item.PspTransactionId {
			return payment.ErrPspTransactionIdSet
		}
	}

	data.Version++
	data.UpdatedAt = time.Now()

	// Immutable fields are carried over from the stored record
	data.OrderId = item.OrderId
	data.Amount = item.Amount
	data.Currency = item.Currency
	data.CreatedAt = item.CreatedAt

	data.CopyTo(item)

	return nil
}

// GetByPaymentId implements payment.Store.GetByPaymentId
func (s *store) GetByPaymentId(_ context.Context, paymentId string) (*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findByPaymentId(paymentId)
	if item == nil {
		return nil, payment.ErrNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// GetByPspTransactionId implements payment.Store.GetByPspTransactionId
func (s *store) GetByPspTransactionId(_ context.Context, pspTransactionId string) (*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.records {
		if item.PspTransactionId != nil && *item.PspTransactionId == pspTransactionId {
			cloned := item.Clone()
			return &cloned, nil
		}
	}

	return nil, payment.ErrNotFound
}

// GetAllByOrderId implements payment.Store.GetAllByOrderId
func (s *store) GetAllByOrderId(_ context.Context, orderId string) ([]*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*payment.Record
	for _, item := range s.records {
		if item.OrderId == orderId {
			cloned := item.Clone()
			res = append(res, &cloned)
		}
	}

	if len(res) == 0 {
		return nil, payment.ErrNotFound
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// GetAllPendingReadyToPoll implements payment.Store.GetAllPendingReadyToPoll
func (s *store) GetAllPendingReadyToPoll(_ context.Context, limit uint64) ([]*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	var res []*payment.Record
	for _, item := range s.records {
		if item.State != payment.StatePending {
			continue
		}
		if item.NextPollAt == nil || item.NextPollAt.After(now) {
			continue
		}

		cloned := item.Clone()
		res = append(res, &cloned)
	}

	if len(res) == 0 {
		return nil, payment.ErrNotFound
	} else if uint64(len(res)) > limit {
		res = res[:limit]
	}
	return res, nil
}

// CountByState implements payment.Store.CountByState
func (s *store) CountByState(_ context.Context, state payment.State) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count uint64
	for _, item := range s.records {
		if item.State == state {
			count++
		}
	}
	return count, nil
}

func (s *store) find(data *payment.Record) *payment.Record {
	for _, item := range s.records {
		if item.Id == data.Id {
			return item
		}

		if item.PaymentId == data.PaymentId {
			return item
		}
	}

	return nil
}

func (s *store) findByPaymentId(paymentId string) *payment.Record {
	for _, item := range s.records {
		if item.PaymentId == paymentId {
			return item
		}
	}

	return nil
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
	s.records = nil
}
