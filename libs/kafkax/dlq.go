package kafkax

import (
	"strconv"

	"github.com/segmentio/kafka-go"
)

// Header keys stamped on dead-lettered messages so a later replay can tell
// where the message came from and why it failed.
const (
	HeaderOriginalTopic     = "original-topic"
	HeaderOriginalPartition = "original-partition"
	HeaderOriginalOffset    = "original-offset"
	HeaderExceptionClass    = "exception-class"
	HeaderExceptionMessage  = "exception-message"
)

// DLQTopic returns the dead-letter topic paired with the given topic.
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// FailureMeta is the delivery failure recorded on a dead-lettered message.
type FailureMeta struct {
	OriginalTopic     string
	OriginalPartition int
	OriginalOffset    int64
	ExceptionClass    string
	ExceptionMessage  string
}

func FailureHeaders(meta FailureMeta) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderOriginalTopic, Value: []byte(meta.OriginalTopic)},
		{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(meta.OriginalPartition))},
		{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(meta.OriginalOffset, 10))},
		{Key: HeaderExceptionClass, Value: []byte(meta.ExceptionClass)},
		{Key: HeaderExceptionMessage, Value: []byte(meta.ExceptionMessage)},
	}
}

func ExtractFailureMeta(headers []kafka.Header) FailureMeta {
	meta := FailureMeta{
		OriginalTopic:    HeaderValue(headers, HeaderOriginalTopic),
		ExceptionClass:   HeaderValue(headers, HeaderExceptionClass),
		ExceptionMessage: HeaderValue(headers, HeaderExceptionMessage),
	}
	if v, err := strconv.Atoi(HeaderValue(headers, HeaderOriginalPartition)); err == nil {
		meta.OriginalPartition = v
	}
	if v, err := strconv.ParseInt(HeaderValue(headers, HeaderOriginalOffset), 10, 64); err == nil {
		meta.OriginalOffset = v
	}
	return meta
}

// SamePartition routes each message to the partition named in its
// original-partition header. Dead-letter topics are provisioned with the
// same partition count as their source topic, so keeping the index intact
// preserves per-key ordering for any later replay.
type SamePartition struct{}

func (SamePartition) Balance(msg kafka.Message, partitions ...int) int {
	if len(partitions) == 0 {
		return 0
	}
	want, err := strconv.Atoi(HeaderValue(msg.Headers, HeaderOriginalPartition))
	if err != nil || want < 0 {
		return partitions[0]
	}
	for _, p := range partitions {
		if p == want {
			return p
		}
	}
	return partitions[want%len(partitions)]
}

var _ kafka.Balancer = SamePartition{}
