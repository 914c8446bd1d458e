package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	appconfig "storeflow/config"
	"storeflow/logger"
	"storeflow/models"
	"storeflow/store"
)

// ErrNoOrders rejects an ingestion call with an empty order list before any
// store write happens.
var ErrNoOrders = errors.New("order list is empty")

// OrderStore is the slice of the store consumed by intake.
type OrderStore interface {
	FindOrders(ctx context.Context, orderID, orderTime string, amount float64) ([]models.OrderRecord, error)
	PutOrders(ctx context.Context, orders []models.OrderRecord) error
	AssignSeq(ctx context.Context, id string, seq models.Seq) error
}

// StatsApplier receives the contributions of one ingestion call and returns
// the number of distinct seqs it touched.
type StatsApplier interface {
	Apply(ctx context.Context, contribs []models.Contribution) (int, error)
}

// Service classifies incoming order submissions against stored records and
// persists the outcome. Each call is an independent unit of work.
type Service struct {
	store   OrderStore
	stats   StatsApplier
	workers int
	limiter *rate.Limiter
	log     *logger.Log
	now     func() time.Time
	newID   func() string
}

func NewService(orderStore OrderStore, stats StatsApplier, cfg *appconfig.Config) *Service {
	var limiter *rate.Limiter
	if qps := cfg.Intake.QueriesPerSecond; qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(qps), qps)
	}
	return &Service{
		store:   orderStore,
		stats:   stats,
		workers: cfg.Intake.MaxQueryWorkers,
		limiter: limiter,
		log:     logger.GetLogger(),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// group holds all submissions of one batch that share a dedup key, in list
// order. One store round trip serves the whole group, so same-key elements
// cannot race each other into duplicate records.
type group struct {
	key   models.DedupKey
	elems []models.OrderSubmission
}

type seqAssignment struct {
	id        string
	seq       models.Seq
	orderDate string
	orderID   string
}

type groupResult struct {
	record     *models.OrderRecord
	assign     *seqAssignment
	saved      int
	updated    int
	duplicates int
}

// Ingest classifies each submission as new, seq-resolving or duplicate,
// persists new records and seq fills, and applies the resulting aggregate
// deltas.
func (s *Service) Ingest(ctx context.Context, req models.IngestRequest) (models.IngestResult, error) {
	if len(req.Orders) == 0 {
		return models.IngestResult{}, ErrNoOrders
	}

	log := s.log.WithComponent("intake")

	groups := groupByKey(req.Orders)

	results := make([]groupResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			first := grp.elems[0]
			matches, err := s.store.FindOrders(gctx, first.OrderID, first.OrderTime, first.PaymentAmount)
			if err != nil {
				return fmt.Errorf("dedup query for order %s: %w", first.OrderID, err)
			}
			res, err := s.classify(grp, matches)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.IngestResult{}, err
	}

	var out models.IngestResult
	var newRecords []models.OrderRecord
	var assigns []seqAssignment
	var contribs []models.Contribution
	for _, res := range results {
		out.Saved += res.saved
		out.Updated += res.updated
		out.Duplicates += res.duplicates
		if res.record != nil {
			newRecords = append(newRecords, *res.record)
			if res.record.StoreSeq().IsMapped() {
				contribs = append(contribs, models.Contribution{
					Seq:       res.record.StoreSeq(),
					OrderDate: res.record.OrderDate,
					OrderID:   res.record.OrderID,
				})
			}
		}
		if res.assign != nil {
			assigns = append(assigns, *res.assign)
		}
	}

	if err := s.store.PutOrders(ctx, newRecords); err != nil {
		return models.IngestResult{}, fmt.Errorf("persist new orders: %w", err)
	}

	// Seq fills are individual conditional updates. A conditional failure
	// means a concurrent call resolved the record first, which downgrades
	// the element to a duplicate instead of failing the batch.
	applied := make([]bool, len(assigns))
	ag, agctx := errgroup.WithContext(ctx)
	ag.SetLimit(s.workers)
	for i, a := range assigns {
		i, a := i, a
		ag.Go(func() error {
			err := s.store.AssignSeq(agctx, a.id, a.seq)
			if err == nil {
				applied[i] = true
				return nil
			}
			if errors.Is(err, store.ErrSeqAlreadyAssigned) {
				return nil
			}
			return err
		})
	}
	if err := ag.Wait(); err != nil {
		return models.IngestResult{}, err
	}
	for i, a := range assigns {
		if !applied[i] {
			out.Duplicates++
			continue
		}
		out.Updated++
		contribs = append(contribs, models.Contribution{
			Seq:       a.seq,
			OrderDate: a.orderDate,
			OrderID:   a.orderID,
		})
	}

	if len(contribs) > 0 {
		n, err := s.stats.Apply(ctx, contribs)
		if err != nil {
			return models.IngestResult{}, fmt.Errorf("apply aggregate deltas: %w", err)
		}
		out.StatsUpdated = n
	}

	log.LogMetric("intake", "orders_received", len(req.Orders), "counter", logger.Fields{})
	log.LogMetric("intake", "orders_saved", out.Saved, "counter", logger.Fields{})
	log.LogMetric("intake", "orders_updated", out.Updated, "counter", logger.Fields{})
	log.LogMetric("intake", "orders_duplicates", out.Duplicates, "counter", logger.Fields{})
	log.LogMetric("intake", "stats_updated", out.StatsUpdated, "counter", logger.Fields{})

	log.WithFields(logger.Fields{
		"orders":        len(req.Orders),
		"saved":         out.Saved,
		"updated":       out.Updated,
		"duplicates":    out.Duplicates,
		"stats_updated": out.StatsUpdated,
	}).Info("ingestion call completed")

	return out, nil
}

// classify resolves one dedup-key group against the store's matches.
func (s *Service) classify(grp group, matches []models.OrderRecord) (groupResult, error) {
	var res groupResult

	if len(matches) == 0 {
		first := grp.elems[0]
		date, err := models.OrderDate(first.OrderTime)
		if err != nil {
			return res, fmt.Errorf("order %s: %w", first.OrderID, err)
		}
		rec := models.OrderRecord{
			ID:             s.newID(),
			OrderID:        first.OrderID,
			OrderTime:      first.OrderTime,
			OrderDate:      date,
			PaymentAmount:  first.PaymentAmount,
			Seq:            first.Seq.Storage(),
			StoreName:      first.StoreName,
			PaymentStatus:  first.PaymentStatus,
			CouponDiscount: first.CouponDiscount,
			PaymentTime:    first.PaymentTime,
			CreatedAt:      s.timestamp(),
		}
		res.saved = 1
		// Later same-key elements resolve against the pending record: a
		// concrete seq fills a pending sentinel, anything else is a
		// duplicate.
		for _, elem := range grp.elems[1:] {
			if !rec.StoreSeq().IsMapped() && elem.Seq.IsMapped() {
				rec.Seq = string(elem.Seq)
				rec.UpdatedAt = s.timestamp()
				res.updated++
			} else {
				res.duplicates++
			}
		}
		res.record = &rec
		return res, nil
	}

	existing := matches[0]
	assigned := existing.StoreSeq().IsMapped()
	for _, elem := range grp.elems {
		if !assigned && elem.Seq.IsMapped() {
			res.assign = &seqAssignment{
				id:        existing.ID,
				seq:       elem.Seq,
				orderDate: existing.OrderDate,
				orderID:   existing.OrderID,
			}
			assigned = true
			continue
		}
		res.duplicates++
	}
	return res, nil
}

// groupByKey buckets submissions by dedup key, preserving first-seen order.
func groupByKey(orders []models.OrderSubmission) []group {
	index := make(map[models.DedupKey]int, len(orders))
	groups := make([]group, 0, len(orders))
	for _, o := range orders {
		k := o.Key()
		if i, ok := index[k]; ok {
			groups[i].elems = append(groups[i].elems, o)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, group{key: k, elems: []models.OrderSubmission{o}})
	}
	return groups
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
