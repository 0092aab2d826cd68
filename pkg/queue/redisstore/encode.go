package redisstore

import "duraq/pkg/queue"

// encodeJobArgs flattens the canonical job field map into the
// alternating field/value pairs the enqueue script's HSET expects.
func encodeJobArgs(job *queue.Job) []interface{} {
	fields := queue.EncodeJobFields(job)
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func decodeJobArgs(fields map[string]string) (*queue.Job, error) {
	return queue.DecodeJobFields(fields)
}
