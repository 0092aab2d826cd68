package queue

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule describes a repeating job's cadence. Type indexes into a
// schedulemap.Map; Meta is the schedule's opaque configuration (a cron
// expression, an interval duration string, ...).
type Schedule struct {
	Type         string
	Meta         string
	LastFireTime int64 // ms epoch, 0 if never fired
}

// Job is the unit of work tracked by the queue. Payload is opaque to the
// queue: callers own its serialization.
type Job struct {
	Tenant   string
	Queue    string
	ID       string
	Payload  []byte
	RunAt    int64 // ms epoch
	Schedule *Schedule
	Retry    []time.Duration // backoff delays, indexed by claim count
	Count    int64           // number of times claimed; starts at 0
	MaxTimes int64           // 0 = unbounded
	Exclusive bool
}

// Fingerprint returns the stable backing-store key for this job's identity.
func (j *Job) Fingerprint() string {
	return Fingerprint(j.Tenant, j.Queue, j.ID)
}

// Fingerprint hashes a job identity into the backing-store key used for
// job:{fingerprint}, the scheduled/pending/processing sets.
func Fingerprint(tenant, queueName, id string) string {
	h := sha1.New()
	h.Write([]byte(tenant))
	h.Write([]byte{0})
	h.Write([]byte(queueName))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

// AckToken proves the holder is the current claimer of a job. Opaque to
// callers beyond equality and round-tripping through Acknowledge.
type AckToken struct {
	Fingerprint string
	Count       int64
}

// --- wire attribute mapping (job:{fp} hash fields) ---

const (
	fieldID            = "id"
	fieldQueue         = "queue"
	fieldTenant        = "tenant"
	fieldPayload       = "payload"
	fieldRunAt         = "runAt"
	fieldScheduleType  = "schedule_type"
	fieldScheduleMeta  = "schedule_meta"
	fieldScheduleLast  = "schedule_last"
	fieldRetry         = "retry"
	fieldCount         = "count"
	fieldMaxTimes      = "max_times"
	fieldExclusive     = "exclusive"
)

// encodeJob renders a Job into the hash field/value pairs stored at
// job:{fingerprint}. Booleans are coerced to "0"/"1", the retry sequence
// to a comma-separated list of milliseconds, matching the wire mapping
// used across the wire mapping.
func encodeJob(j *Job) map[string]string {
	m := map[string]string{
		fieldID:      j.ID,
		fieldQueue:   j.Queue,
		fieldTenant:  j.Tenant,
		fieldPayload: string(j.Payload),
		fieldRunAt:   strconv.FormatInt(j.RunAt, 10),
		fieldCount:   strconv.FormatInt(j.Count, 10),
		fieldExclusive: boolToWire(j.Exclusive),
	}
	if j.Schedule != nil {
		m[fieldScheduleType] = j.Schedule.Type
		m[fieldScheduleMeta] = j.Schedule.Meta
		m[fieldScheduleLast] = strconv.FormatInt(j.Schedule.LastFireTime, 10)
	}
	if len(j.Retry) > 0 {
		parts := make([]string, len(j.Retry))
		for i, d := range j.Retry {
			parts[i] = strconv.FormatInt(d.Milliseconds(), 10)
		}
		m[fieldRetry] = strings.Join(parts, ",")
	}
	if j.MaxTimes > 0 {
		m[fieldMaxTimes] = strconv.FormatInt(j.MaxTimes, 10)
	}
	return m
}

// decodeJob reconstructs a Job from the hash fields read back from the
// backing store, reversing the coercions applied by encodeJob.
func decodeJob(fields map[string]string) (*Job, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	j := &Job{
		ID:      fields[fieldID],
		Queue:   fields[fieldQueue],
		Tenant:  fields[fieldTenant],
		Payload: []byte(fields[fieldPayload]),
	}
	var err error
	if j.RunAt, err = parseInt64(fields[fieldRunAt]); err != nil {
		return nil, fmt.Errorf("decode job %s: runAt: %w", j.ID, err)
	}
	if j.Count, err = parseInt64(fields[fieldCount]); err != nil {
		return nil, fmt.Errorf("decode job %s: count: %w", j.ID, err)
	}
	j.Exclusive = wireToBool(fields[fieldExclusive])
	if v, ok := fields[fieldMaxTimes]; ok && v != "" {
		if j.MaxTimes, err = parseInt64(v); err != nil {
			return nil, fmt.Errorf("decode job %s: max_times: %w", j.ID, err)
		}
	}
	if st, ok := fields[fieldScheduleType]; ok && st != "" {
		last, _ := parseInt64(fields[fieldScheduleLast])
		j.Schedule = &Schedule{
			Type:         st,
			Meta:         fields[fieldScheduleMeta],
			LastFireTime: last,
		}
	}
	if rv, ok := fields[fieldRetry]; ok && rv != "" {
		parts := strings.Split(rv, ",")
		j.Retry = make([]time.Duration, len(parts))
		for i, p := range parts {
			ms, err := parseInt64(p)
			if err != nil {
				return nil, fmt.Errorf("decode job %s: retry[%d]: %w", j.ID, i, err)
			}
			j.Retry[i] = time.Duration(ms) * time.Millisecond
		}
	}
	return j, nil
}

// EncodeJobFields renders job into the hash field/value map a Backend
// implementation persists at job:{fingerprint}. Exported so out-of-
// package Backend implementations (redisstore and friends) share the
// exact wire mapping instead of re-deriving it.
func EncodeJobFields(job *Job) map[string]string { return encodeJob(job) }

// DecodeJobFields reconstructs a Job from hash fields read back from a
// Backend implementation.
func DecodeJobFields(fields map[string]string) (*Job, error) { return decodeJob(fields) }

func boolToWire(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func wireToBool(s string) bool {
	return s == "1"
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
