package aggregate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"storeflow/logger"
	"storeflow/models"
)

// StatStore is the slice of the store consumed by the accumulator. Every
// method must be an atomic increment-or-initialize on the storage side;
// the accumulator never reads counters back.
type StatStore interface {
	AddSeqStats(ctx context.Context, seq string, orders, customers int, lastDate string) error
	AddDayStats(ctx context.Context, date string, orders int, seqs []string) error
	AddStoreDayStats(ctx context.Context, seq, date string, orders int) error
}

// Accumulator turns one ingestion call's contributions into additive deltas
// for the three counter families. No atomicity spans the families; partial
// application leaves counters eventually consistent, which the read-mostly
// dashboards accept.
type Accumulator struct {
	store StatStore
	log   *logger.Log
	now   func() time.Time
}

func New(store StatStore) *Accumulator {
	return &Accumulator{
		store: store,
		log:   logger.GetLogger(),
		now:   time.Now,
	}
}

type seqDelta struct {
	orders   int
	orderIDs map[string]struct{}
}

type dayDelta struct {
	orders int
	seqs   map[string]struct{}
}

type seqDayKey struct {
	seq  string
	date string
}

// Apply groups the contributions and applies each family's deltas, one
// atomic update per key, all keys concurrently. Returns the number of
// distinct seqs touched.
func (a *Accumulator) Apply(ctx context.Context, contribs []models.Contribution) (int, error) {
	if len(contribs) == 0 {
		return 0, nil
	}

	perSeq := make(map[string]*seqDelta)
	perDay := make(map[string]*dayDelta)
	perSeqDay := make(map[seqDayKey]int)

	for _, c := range contribs {
		seq := string(c.Seq)

		sd := perSeq[seq]
		if sd == nil {
			sd = &seqDelta{orderIDs: make(map[string]struct{})}
			perSeq[seq] = sd
		}
		sd.orders++
		sd.orderIDs[c.OrderID] = struct{}{}

		dd := perDay[c.OrderDate]
		if dd == nil {
			dd = &dayDelta{seqs: make(map[string]struct{})}
			perDay[c.OrderDate] = dd
		}
		dd.orders++
		dd.seqs[seq] = struct{}{}

		perSeqDay[seqDayKey{seq: seq, date: c.OrderDate}]++
	}

	today := a.now().UTC().Format(models.DateLayout)

	g, gctx := errgroup.WithContext(ctx)
	for seq, delta := range perSeq {
		seq, delta := seq, delta
		g.Go(func() error {
			// customer_count counts distinct order ids per call, an
			// over-count approximation across repeated calls.
			return a.store.AddSeqStats(gctx, seq, delta.orders, len(delta.orderIDs), today)
		})
	}
	for date, delta := range perDay {
		date, delta := date, delta
		g.Go(func() error {
			seqs := make([]string, 0, len(delta.seqs))
			for seq := range delta.seqs {
				seqs = append(seqs, seq)
			}
			return a.store.AddDayStats(gctx, date, delta.orders, seqs)
		})
	}
	for key, orders := range perSeqDay {
		key, orders := key, orders
		g.Go(func() error {
			return a.store.AddStoreDayStats(gctx, key.seq, key.date, orders)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	a.log.WithComponent("aggregate").WithFields(logger.Fields{
		"contributions": len(contribs),
		"seqs":          len(perSeq),
		"days":          len(perDay),
	}).Debug("aggregate deltas applied")

	return len(perSeq), nil
}
