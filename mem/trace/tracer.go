// Package trace provides hooks that record the accesses of the MMU cache and
// its backing store.
package trace

import (
	"log"
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/mmusim/datarecording"
	"github.com/sarchlab/mmusim/instrumentation/hooking"
	"github.com/sarchlab/mmusim/mem/backing"
	"github.com/sarchlab/mmusim/mem/cache"
)

// TableName is the name of the table the DB tracer writes to.
const TableName = "mmu_access"

// TimeTeller tells the current time.
type TimeTeller interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// accessEntry represents a cache or store access in the database.
type accessEntry struct {
	ID       string
	Location string
	Kind     string
	Op       string
	Address  int64
	Value    int64
	LineID   int64
	Latency  float64
	Time     float64
}

type namer interface {
	Name() string
}

func entryFromCtx(ctx hooking.HookCtx) (accessEntry, bool) {
	entry := accessEntry{
		Kind:   ctx.Pos.Name,
		LineID: -1,
	}

	if n, ok := ctx.Domain.(namer); ok {
		entry.Location = n.Name()
	}

	switch item := ctx.Item.(type) {
	case cache.Event:
		entry.Op = item.Op.String()
		entry.Address = int64(item.Address)
		entry.Value = int64(item.Value)
		entry.LineID = int64(item.LineID)
	case backing.Access:
		if entry.Location == "" {
			entry.Location = "Store"
		}

		entry.Op = "read"
		if ctx.Pos == backing.HookPosStoreWrite {
			entry.Op = "write"
		}

		entry.Address = int64(item.Address)
		entry.Value = int64(item.Value)
		entry.Latency = item.Latency.Seconds()
	default:
		return entry, false
	}

	return entry, true
}

// A tracer is a hook that prints the accesses as CSV lines.
type tracer struct {
	timeTeller TimeTeller
	startTime  time.Time
	logger     *log.Logger
}

// NewTracer creates a hook that prints every access to the logger.
func NewTracer(logger *log.Logger, timeTeller TimeTeller) hooking.Hook {
	if timeTeller == nil {
		timeTeller = wallClock{}
	}

	return &tracer{
		timeTeller: timeTeller,
		startTime:  timeTeller.Now(),
		logger:     logger,
	}
}

func (t *tracer) Func(ctx hooking.HookCtx) {
	entry, ok := entryFromCtx(ctx)
	if !ok {
		return
	}

	t.logger.Printf("%.9f, %s, %s, %s, 0x%x, %d, %d, %.9f\n",
		t.timeTeller.Now().Sub(t.startTime).Seconds(),
		entry.Location,
		entry.Kind,
		entry.Op,
		entry.Address,
		entry.Value,
		entry.LineID,
		entry.Latency,
	)
}

// A dbTracer is a hook that records the accesses into a database using the
// data recorder.
type dbTracer struct {
	timeTeller   TimeTeller
	startTime    time.Time
	dataRecorder datarecording.DataRecorder
}

// NewDBTracer creates a hook that writes every access into the mmu_access
// table of the data recorder.
func NewDBTracer(
	dataRecorder datarecording.DataRecorder,
	timeTeller TimeTeller,
) hooking.Hook {
	if timeTeller == nil {
		timeTeller = wallClock{}
	}

	dataRecorder.CreateTable(TableName, accessEntry{})

	return &dbTracer{
		timeTeller:   timeTeller,
		startTime:    timeTeller.Now(),
		dataRecorder: dataRecorder,
	}
}

func (t *dbTracer) Func(ctx hooking.HookCtx) {
	entry, ok := entryFromCtx(ctx)
	if !ok {
		return
	}

	entry.ID = xid.New().String()
	entry.Time = t.timeTeller.Now().Sub(t.startTime).Seconds()

	t.dataRecorder.InsertData(TableName, entry)
}
