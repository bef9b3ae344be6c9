package calllog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MemoryStore keeps logs in process memory. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	calls []*CallLog
	tools []*ToolCallLog
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// LogCall implements Store.
func (s *MemoryStore) LogCall(_ context.Context, c *CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.calls = append(s.calls, &cp)
	return nil
}

// LogToolExecution implements Store.
func (s *MemoryStore) LogToolExecution(_ context.Context, e *ToolCallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.tools = append(s.tools, &cp)
	return nil
}

// ToolExecutions returns the tool executions logged for callID in execution order.
func (s *MemoryStore) ToolExecutions(callID string) []*ToolCallLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Filter(s.tools, func(e *ToolCallLog, _ int) bool { return e.CallID == callID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutionOrder < out[j].ExecutionOrder })
	return out
}

// GetByConversation implements Store.
func (s *MemoryStore) GetByConversation(_ context.Context, conversationID string) ([]*CallLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Filter(s.calls, func(c *CallLog, _ int) bool { return c.ConversationID == conversationID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// GetByTimeRange implements Store.
func (s *MemoryStore) GetByTimeRange(_ context.Context, start, end time.Time, limit int) ([]*CallLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Filter(s.calls, func(c *CallLog, _ int) bool {
		return !c.Timestamp.Before(start) && !c.Timestamp.After(end)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetStatistics implements Store.
func (s *MemoryStore) GetStatistics(_ context.Context, start, end time.Time) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := lo.Filter(s.calls, func(c *CallLog, _ int) bool {
		return !c.Timestamp.Before(start) && (end.IsZero() || !c.Timestamp.After(end))
	})
	st := &Statistics{TotalCalls: int64(len(recent))}
	if len(recent) == 0 {
		return st, nil
	}

	var total time.Duration
	for _, c := range recent {
		tokens := c.Usage.TotalTokens
		if tokens == 0 {
			tokens = c.Usage.PromptTokens + c.Usage.CompletionTokens
		}
		st.TotalTokens += int64(tokens)
		st.TotalCost += c.Cost
		total += c.Duration
		if c.HasError {
			st.ErrorCount++
		}
	}
	conversations := lo.Uniq(lo.FilterMap(recent, func(c *CallLog, _ int) (string, bool) {
		return c.ConversationID, c.ConversationID != ""
	}))
	st.UniqueConversations = int64(len(conversations))
	st.AvgDuration = total / time.Duration(len(recent))
	st.ErrorRate = float64(st.ErrorCount) / float64(st.TotalCalls)
	return st, nil
}

// CleanupOldLogs implements Store.
func (s *MemoryStore) CleanupOldLogs(_ context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := retentionCutoff(s.now(), retentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.calls)
	s.calls = lo.Reject(s.calls, func(c *CallLog, _ int) bool { return c.Timestamp.Before(cutoff) })
	s.tools = lo.Reject(s.tools, func(e *ToolCallLog, _ int) bool { return e.Timestamp.Before(cutoff) })
	return int64(before - len(s.calls)), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
