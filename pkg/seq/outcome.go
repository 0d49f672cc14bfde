package seq

import (
	"time"

	"github.com/google/uuid"
)

// outcome is one settlement: a value or an error, stamped with an identity
// and a creation time. Defer cycles, callback continuations and step returns
// all collapse into outcomes before the sequencer looks at them.
type outcome struct {
	id        uuid.UUID
	createdAt time.Time
	value     any
	err       error
}

func settledValue(v any) outcome {
	return outcome{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		value:     v,
	}
}

func settledError(err error) outcome {
	return outcome{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		err:       err,
	}
}

func (o outcome) failed() bool {
	return o.err != nil
}
