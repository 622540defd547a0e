package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eventtix/psp-server/pkg/pay/data/refund"
)

type store struct {
	mu      sync.Mutex
	last    uint64
	records []*refund.Record
}

// New returns a new in memory refund.Store
func New() refund.Store {
	return &store{}
}

// Put implements refund.Store.Put
func (s *store) Put(_ context.Context, data *refund.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last++
	if item := s.findByRefundId(data.RefundId); item != nil {
		return refund.ErrAlreadyExists
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

// Update implements refund.Store.Update
func (s *store) Update(_ context.Context, data *refund.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findByRefundId(data.RefundId)
	if item == nil {
		return refund.ErrNotFound
	}

	if item.Version != data.Version {
		return refund.ErrStaleRecord
	}

	if item.PspRefundId != nil {
		if data.PspRefundId == nil || *data.PspRefundId != *item.PspRefundId {
			return refund.ErrPspRefundIdSet
		}
	}

	data.Version++
	data.UpdatedAt = time.Now()

	// Immutable fields are carried over from the stored record
	data.PaymentId = item.PaymentId
	data.Amount = item.Amount
	data.Currency = item.Currency
	data.CreatedAt = item.CreatedAt

	data.CopyTo(item)

	return nil
}

// GetByRefundId implements refund.Store.GetByRefundId
func (s *store) GetByRefundId(_ context.Context, refundId string) (*refund.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findByRefundId(refundId)
	if item == nil {
		return nil, refund.ErrNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// GetByPspRefundId implements refund.Store.GetByPspRefundId
func (s *store) GetByPspRefundId(_ context.Context, pspRefundId string) (*refund.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.records {
		if item.PspRefundId != nil && *item.PspRefundId == pspRefundId {
			cloned := item.Clone()
			return &cloned, nil
		}
	}

	return nil, refund.ErrNotFound
}

// GetAllByPaymentId implements refund.Store.GetAllByPaymentId
func (s *store) GetAllByPaymentId(_ context.Context, paymentId string) ([]*refund.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*refund.Record
	for _, item := range s.records {
		if item.PaymentId == paymentId {
			cloned := item.Clone()
			res = append(res, &cloned)
		}
	}

	if len(res) == 0 {
		return nil, refund.ErrNotFound
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Id > res[j].Id
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	return res, nil
}

// GetConfirmedAmountByPaymentId implements refund.Store.GetConfirmedAmountByPaymentId
func (s *store) GetConfirmedAmountByPaymentId(_ context.Context, paymentId string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total uint64
	for _, item := range s.records {
		if item.PaymentId == paymentId && item.State == refund.StateConfirmed {
			total += item.Amount
		}
	}

	return total, nil
}

// GetCommittedAmountByPaymentId implements refund.Store.GetCommittedAmountByPaymentId
func (s *store) GetCommittedAmountByPaymentId(_ context.Context, paymentId string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total uint64
	for _, item := range s.records {
		if item.PaymentId == paymentId && item.State.IsActive() {
			total += item.Amount
		}
	}

	return total, nil
}

func (s *store) findByRefundId(refundId string) *refund.Record {
	for _, item := range s.records {
		if item.RefundId == refundId {
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
