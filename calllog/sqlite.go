package calllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/migrations"
)

var callColumns = []string{
	"id", "conversation_id", "provider", "model", "timestamp", "duration_ms",
	"request_messages", "request_options", "request_tools",
	"response_content", "thinking_content", "function_call",
	"prompt_tokens", "completion_tokens", "total_tokens", "cost",
	"finish_reason", "has_error", "error_message",
	"user_id", "session_id", "metadata",
}

// SQLiteStore keeps logs in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger zerolog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open call log database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	store, err := NewSQLiteStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an open database and applies migrations.
func NewSQLiteStore(db *sql.DB, logger zerolog.Logger) (*SQLiteStore, error) {
	logger = logger.With().Str("component", "call_log_store").Logger()
	if err := migrations.Run(db, logger); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now, logger: logger}, nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LogCall implements Store.
func (s *SQLiteStore) LogCall(ctx context.Context, c *CallLog) error {
	var (
		msgs, opts, toolNames, fnCall, meta string
		err                                 error
	)
	if msgs, err = encodeJSON(c.RequestMessages); err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	if c.RequestOptions != nil {
		if opts, err = encodeJSON(c.RequestOptions); err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
	}
	if toolNames, err = encodeJSON(c.RequestTools); err != nil {
		return fmt.Errorf("encode tools: %w", err)
	}
	if c.FunctionCall != nil {
		if fnCall, err = encodeJSON(c.FunctionCall); err != nil {
			return fmt.Errorf("encode function call: %w", err)
		}
	}
	if len(c.Metadata) > 0 {
		if meta, err = encodeJSON(c.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	total := c.Usage.TotalTokens
	if total == 0 {
		total = c.Usage.PromptTokens + c.Usage.CompletionTokens
	}

	query := sq.Insert("llm_calls").
		Columns(callColumns...).
		Values(
			c.ID, c.ConversationID, c.Provider, c.Model, c.Timestamp.UnixMilli(), c.Duration.Milliseconds(),
			msgs, opts, toolNames,
			c.ResponseContent, c.ThinkingContent, fnCall,
			c.Usage.PromptTokens, c.Usage.CompletionTokens, total, c.Cost,
			c.FinishReason, boolInt(c.HasError), c.ErrorMessage,
			c.UserID, c.SessionID, meta,
		)
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Err(err).Str("callID", c.ID).Msg("Failed to insert call log")
		return fmt.Errorf("failed to insert call log: %w", err)
	}
	return nil
}

// LogToolExecution implements Store.
func (s *SQLiteStore) LogToolExecution(ctx context.Context, e *ToolCallLog) error {
	args, err := encodeJSON(e.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	query := sq.Insert("tool_executions").
		Columns("id", "call_id", "tool_name", "timestamp", "duration_ms", "arguments",
			"success", "result", "error_message", "provider", "execution_order").
		Values(e.ID, e.CallID, e.ToolName, e.Timestamp.UnixMilli(), e.Duration.Milliseconds(), args,
			boolInt(e.Success), e.Result, e.ErrorMessage, e.Provider, e.ExecutionOrder)
	queryStr, qargs, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, qargs...); err != nil {
		s.logger.Error().Err(err).Str("toolName", e.ToolName).Msg("Failed to insert tool execution")
		return fmt.Errorf("failed to insert tool execution: %w", err)
	}
	return nil
}

// GetByConversation implements Store. Calls are returned oldest first.
func (s *SQLiteStore) GetByConversation(ctx context.Context, conversationID string) ([]*CallLog, error) {
	query := sq.Select(callColumns...).
		From("llm_calls").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("timestamp ASC")
	return s.queryCalls(ctx, query)
}

// GetByTimeRange implements Store.
func (s *SQLiteStore) GetByTimeRange(ctx context.Context, start, end time.Time, limit int) ([]*CallLog, error) {
	query := sq.Select(callColumns...).
		From("llm_calls").
		Where(sq.GtOrEq{"timestamp": start.UnixMilli()}).
		Where(sq.LtOrEq{"timestamp": end.UnixMilli()}).
		OrderBy("timestamp DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	return s.queryCalls(ctx, query)
}

func (s *SQLiteStore) queryCalls(ctx context.Context, query sq.SelectBuilder) ([]*CallLog, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Rows close error can be ignored

	var out []*CallLog
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call logs: %w", err)
	}
	return out, nil
}

func scanCall(rows *sql.Rows) (*CallLog, error) {
	var (
		c                                                     CallLog
		conversationID, msgs, opts, toolNames                 sql.NullString
		content, thinking, fnCall, finish, errMsg, user, sess sql.NullString
		meta                                                  sql.NullString
		ts, durationMs                                        int64
		hasError                                              int
	)
	err := rows.Scan(
		&c.ID, &conversationID, &c.Provider, &c.Model, &ts, &durationMs,
		&msgs, &opts, &toolNames,
		&content, &thinking, &fnCall,
		&c.Usage.PromptTokens, &c.Usage.CompletionTokens, &c.Usage.TotalTokens, &c.Cost,
		&finish, &hasError, &errMsg,
		&user, &sess, &meta,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan call log: %w", err)
	}
	c.ConversationID = conversationID.String
	c.Timestamp = time.UnixMilli(ts)
	c.Duration = time.Duration(durationMs) * time.Millisecond
	c.ResponseContent = content.String
	c.ThinkingContent = thinking.String
	c.FinishReason = finish.String
	c.HasError = hasError != 0
	c.ErrorMessage = errMsg.String
	c.UserID = user.String
	c.SessionID = sess.String

	decode := func(field string, src sql.NullString, dst any) error {
		if src.String == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(src.String), dst); err != nil {
			return fmt.Errorf("decode %s: %w", field, err)
		}
		return nil
	}
	if err := decode("request_messages", msgs, &c.RequestMessages); err != nil {
		return nil, err
	}
	if opts.String != "" {
		c.RequestOptions = &llm.ChatOptions{}
		if err := decode("request_options", opts, c.RequestOptions); err != nil {
			return nil, err
		}
	}
	if err := decode("request_tools", toolNames, &c.RequestTools); err != nil {
		return nil, err
	}
	if fnCall.String != "" {
		c.FunctionCall = &llm.FunctionCall{}
		if err := decode("function_call", fnCall, c.FunctionCall); err != nil {
			return nil, err
		}
	}
	if err := decode("metadata", meta, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetStatistics implements Store.
func (s *SQLiteStore) GetStatistics(ctx context.Context, start, end time.Time) (*Statistics, error) {
	query := sq.Select(
		"COUNT(*)",
		"COALESCE(SUM(total_tokens), 0)",
		"COALESCE(SUM(cost), 0)",
		"COALESCE(AVG(duration_ms), 0)",
		"COUNT(DISTINCT NULLIF(conversation_id, ''))",
		"COALESCE(SUM(has_error), 0)",
	).
		From("llm_calls").
		Where(sq.GtOrEq{"timestamp": start.UnixMilli()})
	if !end.IsZero() {
		query = query.Where(sq.LtOrEq{"timestamp": end.UnixMilli()})
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var (
		st    Statistics
		avgMs float64
	)
	err = s.db.QueryRowContext(ctx, queryStr, args...).
		Scan(&st.TotalCalls, &st.TotalTokens, &st.TotalCost, &avgMs, &st.UniqueConversations, &st.ErrorCount)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	st.AvgDuration = time.Duration(avgMs * float64(time.Millisecond))
	if st.TotalCalls > 0 {
		st.ErrorRate = float64(st.ErrorCount) / float64(st.TotalCalls)
	}
	return &st, nil
}

// CleanupOldLogs implements Store.
func (s *SQLiteStore) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := retentionCutoff(s.now(), retentionDays).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	toolQuery, toolArgs, err := sq.Delete("tool_executions").Where(sq.Lt{"timestamp": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, toolQuery, toolArgs...); err != nil {
		return 0, fmt.Errorf("failed to delete tool executions: %w", err)
	}

	callQuery, callArgs, err := sq.Delete("llm_calls").Where(sq.Lt{"timestamp": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := tx.ExecContext(ctx, callQuery, callArgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete call logs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted call logs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	s.logger.Info().Int64("deleted", deleted).Int("retentionDays", retentionDays).Msg("Cleaned up old call logs")
	return deleted, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
