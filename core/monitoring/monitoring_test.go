package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordMonitor struct {
	errs []error
	tags []map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestCaptureException(t *testing.T) {
	prev := Current()
	defer Init(prev)

	m := &recordMonitor{}
	Init(m)
	Init(nil)
	assert.Same(t, m, Current())

	CaptureException(errors.New("boom"), map[string]string{"component": "flow"})
	CaptureException(nil, nil)
	assert.Len(t, m.errs, 1)
	assert.Equal(t, "flow", m.tags[0]["component"])
}
