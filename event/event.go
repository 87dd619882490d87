// Package event turns S3 notification batches into references to newly created objects.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// CategoryCreated is the event name category of object creation notifications.
const CategoryCreated = "ObjectCreated"

// CreatedObject references an object announced by an ObjectCreated event.
type CreatedObject struct {
	Bucket string
	Key    string
	// Action is the event name subcategory, e.g. Put or CompleteMultipartUpload.
	Action string
}

// MalformedNameError is returned for records whose event name is not "<Category>:<Subcategory>".
type MalformedNameError struct {
	Index int
	Name  string
}

func (e *MalformedNameError) Error() string {
	return fmt.Sprintf("record %d: malformed event name %q", e.Index, e.Name)
}

// SplitName splits an event name like "ObjectCreated:Put" into its category and subcategory.
func SplitName(name string) (category, subcategory string, err error) {
	parts := strings.Split(name, ":")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("malformed event name %q", name)
	}
	return parts[0], parts[1], nil
}

// Iterator walks a batch once, yielding only ObjectCreated records.
//
// Iteration stops at the first record with a malformed event name, Err reports it.
type Iterator struct {
	records []events.S3EventRecord
	pos     int
	skipped int
	cur     CreatedObject
	err     error
	log     logrus.FieldLogger
}

// NewIterator returns an iterator over batch records.
func NewIterator(batch events.S3Event, log logrus.FieldLogger) *Iterator {
	return &Iterator{records: batch.Records, log: log}
}

// Next advances to the next created object. It returns false when the batch is exhausted or
// a malformed record was met.
func (it *Iterator) Next() bool {
	for it.err == nil && it.pos < len(it.records) {
		i := it.pos
		rec := it.records[i]
		it.pos++

		category, subcategory, err := SplitName(rec.EventName)
		if err != nil {
			it.err = &MalformedNameError{Index: i, Name: rec.EventName}
			return false
		}

		if category != CategoryCreated {
			it.log.WithField("record", rec).Warnf("Ignoring %s event on %s", rec.EventName, rec.S3.Object.Key)
			it.skipped++
			continue
		}

		it.cur = CreatedObject{
			Bucket: rec.S3.Bucket.Name,
			Key:    objectKey(rec.S3.Object),
			Action: subcategory,
		}
		it.log.WithFields(logrus.Fields{"bucket": it.cur.Bucket, "key": it.cur.Key}).
			Infof("Received %s trigger on %s", subcategory, it.cur.Key)
		return true
	}
	return false
}

// Object returns the current created object.
func (it *Iterator) Object() CreatedObject {
	return it.cur
}

// Skipped returns the number of non creation records passed so far.
func (it *Iterator) Skipped() int {
	return it.skipped
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Keys in notifications are URL encoded, the decoded form is what the store addresses.
func objectKey(o events.S3Object) string {
	if o.URLDecodedKey != "" {
		return o.URLDecodedKey
	}
	return o.Key
}

// Decode reads one JSON encoded notification batch.
func Decode(r io.Reader) (events.S3Event, error) {
	var batch events.S3Event
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return events.S3Event{}, fmt.Errorf("decoding S3 event: %w", err)
	}
	return batch, nil
}

// Synthesize builds a batch of "ObjectCreated:<action>" records for keys already stored in bucket.
func Synthesize(bucket, action string, keys []string) events.S3Event {
	batch := events.S3Event{Records: make([]events.S3EventRecord, 0, len(keys))}
	for _, k := range keys {
		batch.Records = append(batch.Records, events.S3EventRecord{
			EventSource: "aws:s3",
			EventName:   CategoryCreated + ":" + action,
			S3: events.S3Entity{
				Bucket: events.S3Bucket{Name: bucket},
				Object: events.S3Object{Key: k, URLDecodedKey: k},
			},
		})
	}
	return batch
}
