// Package queuetest provides an in-memory queue.Backend for deterministic
// unit tests: a mutex-guarded mirror of redisstore's Lua scripts with a
// manually-advanced clock, so tests can assert exact timing without a
// live Redis.
package queuetest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"duraq/pkg/queue"
)

// MemStore implements queue.Backend over in-process maps.
type MemStore struct {
	mu sync.Mutex

	now        int64
	scheduled  map[string]int64    // fingerprint -> runAt score
	processing map[string]int64    // fingerprint -> deadline score
	pending    map[string][]string // tenant -> fifo list of fingerprints
	jobs       map[string]map[string]string
	ids        map[string]map[string]bool // "tenant:queue" -> id set
}

// New builds an empty MemStore with its clock at 0.
func New() *MemStore {
	return &MemStore{
		scheduled:  make(map[string]int64),
		processing: make(map[string]int64),
		pending:    make(map[string][]string),
		jobs:       make(map[string]map[string]string),
		ids:        make(map[string]map[string]bool),
	}
}

// SetNow pins the store's clock to ms.
func (m *MemStore) SetNow(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = ms
}

// Advance moves the store's clock forward by ms.
func (m *MemStore) Advance(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += ms
}

func (m *MemStore) Now(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now, nil
}

func idsKey(tenant, queueName string) string { return tenant + ":" + queueName }

func (m *MemStore) Enqueue(ctx context.Context, job *queue.Job) (queue.EnqueueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := job.Fingerprint()
	_, exists := m.jobs[fp]
	var res queue.EnqueueResult

	if exists {
		res.Replaced = true
		if _, inProcessing := m.processing[fp]; inProcessing {
			if job.Exclusive {
				return queue.EnqueueResult{}, queue.ErrQueueLocked
			}
			res.DeferredReplace = true
		} else {
			delete(m.scheduled, fp)
			m.removeFromPending(job.Tenant, fp)
		}
	}

	m.jobs[fp] = queue.EncodeJobFields(job)
	key := idsKey(job.Tenant, job.Queue)
	if m.ids[key] == nil {
		m.ids[key] = make(map[string]bool)
	}
	m.ids[key][job.ID] = true

	if !res.DeferredReplace {
		if job.RunAt <= m.now {
			m.pending[job.Tenant] = append(m.pending[job.Tenant], fp)
		} else {
			m.scheduled[fp] = job.RunAt
		}
	}
	return res, nil
}

func (m *MemStore) removeFromPending(tenant, fp string) {
	list := m.pending[tenant]
	for i, v := range list {
		if v == fp {
			m.pending[tenant] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (m *MemStore) PromoteDue(ctx context.Context, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type due struct {
		fp    string
		score int64
	}
	var candidates []due
	for fp, score := range m.scheduled {
		if score <= m.now {
			candidates = append(candidates, due{fp, score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].fp < candidates[j].fp
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	n := 0
	for _, d := range candidates {
		delete(m.scheduled, d.fp)
		fields, ok := m.jobs[d.fp]
		if !ok {
			continue
		}
		tenant := fields["tenant"]
		m.pending[tenant] = append(m.pending[tenant], d.fp)
		n++
	}
	return n, nil
}

func (m *MemStore) Claim(ctx context.Context, tenant string, staleAfter int64) (*queue.ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.pending[tenant]
	if len(list) == 0 {
		return nil, nil
	}
	fp := list[0]
	m.pending[tenant] = list[1:]

	deadline := m.now + staleAfter
	m.processing[fp] = deadline

	count, _ := strconv.ParseInt(m.jobs[fp]["count"], 10, 64)
	count++
	m.jobs[fp]["count"] = strconv.FormatInt(count, 10)

	job, err := queue.DecodeJobFields(m.jobs[fp])
	if err != nil {
		return nil, err
	}
	job.Count = count

	return &queue.ClaimResult{Job: job, Token: queue.AckToken{Fingerprint: fp, Count: count}}, nil
}

func (m *MemStore) Acknowledge(ctx context.Context, token queue.AckToken, policy queue.AckPolicy) (queue.AckDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processing[token.Fingerprint]; !ok {
		return queue.AckDecision{}, queue.ErrStaleAck
	}
	fields := m.jobs[token.Fingerprint]
	current, _ := strconv.ParseInt(fields["count"], 10, 64)
	if current != token.Count {
		return queue.AckDecision{}, queue.ErrStaleAck
	}
	delete(m.processing, token.Fingerprint)

	schedType := fields["schedule_type"]
	if schedType == "" || policy.DontReschedule {
		m.deleteJob(token.Fingerprint)
		return queue.AckDecision{Kind: queue.AckTerminated}, nil
	}

	last, _ := strconv.ParseInt(fields["schedule_last"], 10, 64)
	maxTimes, _ := strconv.ParseInt(fields["max_times"], 10, 64)
	return queue.AckDecision{
		Kind: queue.AckNeedsReschedule,
		Schedule: &queue.ScheduleState{
			Type:         schedType,
			Meta:         fields["schedule_meta"],
			LastFireTime: last,
			Count:        token.Count,
			MaxTimes:     maxTimes,
		},
	}, nil
}

func (m *MemStore) CommitReschedule(ctx context.Context, token queue.AckToken, nextRunAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := m.jobs[token.Fingerprint]
	if fields == nil {
		return nil
	}
	fields["runAt"] = strconv.FormatInt(nextRunAt, 10)
	fields["schedule_last"] = strconv.FormatInt(nextRunAt, 10)
	m.scheduled[token.Fingerprint] = nextRunAt
	return nil
}

func (m *MemStore) Terminate(ctx context.Context, token queue.AckToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.jobs[token.Fingerprint]
	if !ok {
		return nil
	}
	current, _ := strconv.ParseInt(fields["count"], 10, 64)
	if current != token.Count {
		return nil
	}
	m.deleteJob(token.Fingerprint)
	return nil
}

// deleteJob removes the job hash and its id-set membership. Caller holds m.mu.
func (m *MemStore) deleteJob(fp string) {
	fields := m.jobs[fp]
	if fields == nil {
		return
	}
	key := idsKey(fields["tenant"], fields["queue"])
	if set := m.ids[key]; set != nil {
		delete(set, fields["id"])
	}
	delete(m.jobs, fp)
}

func (m *MemStore) ScanStale(ctx context.Context, now int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type entry struct {
		fp    string
		score int64
	}
	var out []entry
	for fp, score := range m.processing {
		if score <= now {
			out = append(out, entry{fp, score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].fp < out[j].fp
	})
	fps := make([]string, len(out))
	for i, e := range out {
		fps[i] = e.fp
	}
	return fps, nil
}

func (m *MemStore) ReportStale(ctx context.Context, fingerprint string, now int64) (queue.StaleOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processing[fingerprint]; !ok {
		return queue.StaleOutcome{AlreadyResolved: true}, nil
	}
	delete(m.processing, fingerprint)

	fields := m.jobs[fingerprint]
	identity := queue.StaleOutcome{Tenant: fields["tenant"], Queue: fields["queue"], ID: fields["id"]}
	count, _ := strconv.ParseInt(fields["count"], 10, 64)
	var retries []int64
	if rv := fields["retry"]; rv != "" {
		for _, p := range strings.Split(rv, ",") {
			ms, _ := strconv.ParseInt(p, 10, 64)
			retries = append(retries, ms)
		}
	}

	if count >= 1 && count <= int64(len(retries)) {
		delayMs := retries[count-1]
		nextAt := now + delayMs
		fields["runAt"] = strconv.FormatInt(nextAt, 10)
		m.scheduled[fingerprint] = nextAt
		identity.Retried, identity.NextRetryAt = true, nextAt
		return identity, nil
	}

	m.deleteJob(fingerprint)
	identity.Removed = true
	return identity, nil
}

func (m *MemStore) FindByID(ctx context.Context, tenant, queueName, id string) (*queue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := queue.Fingerprint(tenant, queueName, id)
	fields, ok := m.jobs[fp]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return queue.DecodeJobFields(fields)
}

func (m *MemStore) Delete(ctx context.Context, tenant, queueName, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := queue.Fingerprint(tenant, queueName, id)
	if _, ok := m.jobs[fp]; !ok {
		return false, nil
	}
	delete(m.scheduled, fp)
	delete(m.processing, fp)
	m.removeFromPending(tenant, fp)
	m.deleteJob(fp)
	return true, nil
}

func (m *MemStore) Invoke(ctx context.Context, tenant, queueName, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := queue.Fingerprint(tenant, queueName, id)
	if _, ok := m.jobs[fp]; !ok {
		return false, nil
	}
	if _, ok := m.processing[fp]; ok {
		return false, nil
	}
	if _, ok := m.scheduled[fp]; ok {
		delete(m.scheduled, fp)
		m.pending[tenant] = append(m.pending[tenant], fp)
		return true, nil
	}
	for _, v := range m.pending[tenant] {
		if v == fp {
			return true, nil
		}
	}
	return false, nil
}

var _ queue.Backend = (*MemStore)(nil)
