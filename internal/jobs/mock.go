package jobs

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

const (
	mockIDPrefix  = "mock_"
	mockTTL       = time.Hour
	mockSweep     = 10 * time.Minute
	mockStepMin   = 10
	mockStepSpan  = 21 // steps are mockStepMin + [0, mockStepSpan)
	progressDone  = 100
)

// mockJob is a simulated job living only in the local registry.
type mockJob struct {
	kind     Kind
	state    State
	progress int
}

// mockRegistry holds simulated jobs. go-cache evicts abandoned entries after
// the TTL; the mutex serializes the read-modify-write of Poll.
type mockRegistry struct {
	mu    sync.Mutex
	cache *gocache.Cache
	rand  *rand.Rand
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		cache: gocache.New(mockTTL, mockSweep),
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func isMockID(taskID string) bool {
	return strings.HasPrefix(taskID, mockIDPrefix)
}

// create registers a new queued mock job and returns its ID.
func (r *mockRegistry) create(kind Kind) string {
	id := mockIDPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Set(id, &mockJob{kind: kind, state: StateQueued}, gocache.DefaultExpiration)
	return id
}

// poll advances the job by a random 10-30 step and returns its new status.
// Progress never moves backwards and caps at exactly 100, at which point the
// job succeeds.
func (r *mockRegistry) poll(taskID string) (*AsyncJobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, found := r.cache.Get(taskID)
	if !found {
		return nil, &UnknownTaskError{ID: taskID}
	}
	job := entry.(*mockJob)

	switch {
	case job.state == StateQueued:
		// report queued once; work starts on the next poll
		job.state = StateRunning
		r.cache.Set(taskID, job, gocache.DefaultExpiration)
		return &AsyncJobStatus{ID: taskID, Kind: job.kind, State: StateQueued, Detail: "simulated job"}, nil
	case !job.state.Terminal():
		job.progress += mockStepMin + r.rand.Intn(mockStepSpan)
		if job.progress >= progressDone {
			job.progress = progressDone
			job.state = StateSucceeded
		}
		r.cache.Set(taskID, job, gocache.DefaultExpiration)
	}

	return r.snapshot(taskID, job), nil
}

// result returns the terminal result URLs and evicts the entry. A second
// fetch for the same ID reports the task as unknown.
func (r *mockRegistry) result(taskID string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, found := r.cache.Get(taskID)
	if !found {
		return nil, &UnknownTaskError{ID: taskID}
	}
	job := entry.(*mockJob)
	if !job.state.Terminal() {
		return nil, &NotTerminalError{ID: taskID, State: job.state}
	}

	r.cache.Delete(taskID)
	return mockResultURLs(taskID, job.kind), nil
}

func (r *mockRegistry) snapshot(taskID string, job *mockJob) *AsyncJobStatus {
	status := &AsyncJobStatus{
		ID:       taskID,
		Kind:     job.kind,
		State:    job.state,
		Progress: job.progress,
		Detail:   "simulated job",
	}
	if job.state == StateSucceeded {
		status.ResultURLs = mockResultURLs(taskID, job.kind)
	}
	return status
}

func mockResultURLs(taskID string, kind Kind) map[string]string {
	switch kind {
	case KindMesh:
		return map[string]string{"model_glb": fmt.Sprintf("mock://mesh/%s.glb", taskID)}
	case KindBatch:
		return map[string]string{"poster-0": fmt.Sprintf("mock://poster/%s_poster-0.png", taskID)}
	default:
		return map[string]string{"video": fmt.Sprintf("mock://video/%s.mp4", taskID)}
	}
}
