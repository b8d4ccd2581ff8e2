package domain

import "time"

// TaskType enumerates the kinds of background work the queue drives.
type TaskType string

// Task type values.
const (
	TaskFullScrape TaskType = "full_scrape"
	TaskAIAnalysis TaskType = "ai_analysis"
	TaskDiscover   TaskType = "discover"
)

// TaskStatus captures the lifecycle state of a queued task.
type TaskStatus string

// Task status values.
const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// DefaultMaxAttempts is the number of claims a task gets before it finalises
// as failed, absent an explicit override.
const DefaultMaxAttempts = 3

// Known payload keys. Payload is a free-form bag; these are the keys the
// handlers and pipeline read and write.
const (
	PayloadBatchID      = "batch_id"
	PayloadHashtag      = "hashtag"
	PayloadMinFollowers = "min_followers"
	PayloadTextOnly     = "text_only"
)

// Task is a unit of background work with a lifecycle stored in the task
// store. Invariants:
//   - exactly one of (done xor failed) is terminal; pending/running are working states.
//   - a running task always has StartedAt set; a terminal task always has CompletedAt set.
//   - Attempts <= MaxAttempts; hitting the limit finalises the task as failed.
//   - no two non-terminal tasks share the same (BlogID, Type).
type Task struct {
	ID          string
	BlogID      *string
	Type        TaskType
	Status      TaskStatus
	Priority    int
	Payload     map[string]any
	Attempts    int
	MaxAttempts int
	ErrorMsg    string
	NextRetryAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// PayloadString reads a string payload value, returning "" when absent or of
// another type.
func (t Task) PayloadString(key string) string {
	if t.Payload == nil {
		return ""
	}
	v, ok := t.Payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// PayloadInt reads an integer payload value, tolerating the float64 shape
// produced by JSON round-trips.
func (t Task) PayloadInt(key string) (int, bool) {
	if t.Payload == nil {
		return 0, false
	}
	v, ok := t.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// PayloadBool reads a boolean payload value.
func (t Task) PayloadBool(key string) bool {
	if t.Payload == nil {
		return false
	}
	v, ok := t.Payload[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// TaskFilter narrows List() to tasks matching the given status and/or type.
// Zero values mean "no filter on this field".
type TaskFilter struct {
	Status *TaskStatus
	Type   *TaskType
}

// TaskRepository is the storage port behind the Task Queue API. It exposes
// claim/update primitives; callers never mutate task rows directly.
type TaskRepository interface {
	// Insert atomically creates a task row unless a non-terminal task
	// already exists for (t.BlogID, t.Type), in which case it returns
	// ("", nil) rather than an error. Implementations must enforce this
	// with a conditional insert against the uniqueness constraint, not a
	// prior read: concurrent callers are expected to race the same insert.
	Insert(ctx Context, t Task) (string, error)
	// ExistsNonTerminal reports whether a non-terminal task already exists
	// for (blogID, taskType).
	ExistsNonTerminal(ctx Context, blogID *string, taskType TaskType) (bool, error)
	// ClaimBatch atomically transitions up to limit eligible pending tasks to
	// running, ordered by priority ASC, created_at ASC, and returns them.
	ClaimBatch(ctx Context, limit int) ([]Task, error)
	// UpdateStatus sets status/error/timestamps for a single task by id.
	UpdateStatus(ctx Context, id string, status TaskStatus, errMsg string, nextRetryAt *time.Time) error
	// SetPayload merges keys into a task's stored payload.
	SetPayload(ctx Context, id string, patch map[string]any) error
	// Get loads a single task by id.
	Get(ctx Context, id string) (Task, error)
	// List returns a page of tasks matching filter along with the total count.
	List(ctx Context, filter TaskFilter, limit, offset int) ([]Task, int, error)
	// RunningOlderThan returns running tasks of the given type whose
	// StartedAt predates cutoff (used by stuck-task and stale-batch recovery).
	RunningOlderThan(ctx Context, taskType TaskType, cutoff time.Time) ([]Task, error)
	// RunningUnattachedAIAnalysis returns running ai_analysis tasks with no
	// batch_id (absent or empty) in their payload yet.
	RunningUnattachedAIAnalysis(ctx Context) ([]Task, error)
	// RunningWithBatchIDs returns running ai_analysis tasks whose payload
	// batch_id is in the given set.
	RunningWithBatchIDs(ctx Context, batchIDs []string) ([]Task, error)
	// DistinctRunningBatchIDs returns the distinct non-empty batch_id values
	// present on running ai_analysis tasks, the poll job's unit of work.
	DistinctRunningBatchIDs(ctx Context) ([]string, error)
}
