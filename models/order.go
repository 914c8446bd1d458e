package models

import (
	"fmt"
	"time"
)

// DateLayout is the canonical day format used across all aggregate keys.
const DateLayout = "2006-01-02"

// Seq identifies the store (merchant) an order belongs to. Orders may
// arrive before their store mapping is known; such orders carry the
// unmapped sentinel until a later submission resolves them.
type Seq string

// SeqUnmapped is the sentinel stored for orders not yet attributed to a
// known store. It only appears at the storage and wire boundary; use
// IsMapped to branch on it.
const SeqUnmapped Seq = "UNMAPPED"

// IsMapped reports whether the seq refers to a concrete store.
func (s Seq) IsMapped() bool {
	return s != "" && s != SeqUnmapped
}

// Storage returns the value persisted for this seq, substituting the
// sentinel for an absent one.
func (s Seq) Storage() string {
	if s == "" {
		return string(SeqUnmapped)
	}
	return string(s)
}

// OrderSubmission is a single raw order in an ingestion request.
type OrderSubmission struct {
	OrderID        string  `json:"order_id"`
	OrderTime      string  `json:"order_time"`
	PaymentAmount  float64 `json:"payment_amount"`
	Seq            Seq     `json:"seq,omitempty"`
	StoreName      string  `json:"store_name_csv,omitempty"`
	PaymentStatus  string  `json:"payment_status,omitempty"`
	CouponDiscount float64 `json:"coupon_discount,omitempty"`
	PaymentTime    string  `json:"payment_time,omitempty"`
}

// DedupKey identifies a logical order across resubmissions. A missing
// payment amount counts as zero, so resubmitting without the amount
// still matches the original record.
type DedupKey struct {
	OrderID       string
	OrderTime     string
	PaymentAmount float64
}

// Key returns the submission's dedup key.
func (o OrderSubmission) Key() DedupKey {
	return DedupKey{
		OrderID:       o.OrderID,
		OrderTime:     o.OrderTime,
		PaymentAmount: o.PaymentAmount,
	}
}

// OrderRecord is the persisted form of an order. Records are created
// once per dedup key and mutated at most once, when a sentinel seq is
// resolved to a concrete store.
type OrderRecord struct {
	ID             string  `dynamodbav:"id" json:"id"`
	OrderID        string  `dynamodbav:"order_id" json:"order_id"`
	OrderTime      string  `dynamodbav:"order_time" json:"order_time"`
	OrderDate      string  `dynamodbav:"order_date" json:"order_date"`
	PaymentAmount  float64 `dynamodbav:"payment_amount" json:"payment_amount"`
	Seq            string  `dynamodbav:"seq" json:"seq"`
	StoreName      string  `dynamodbav:"store_name,omitempty" json:"store_name,omitempty"`
	PaymentStatus  string  `dynamodbav:"payment_status,omitempty" json:"payment_status,omitempty"`
	CouponDiscount float64 `dynamodbav:"coupon_discount,omitempty" json:"coupon_discount,omitempty"`
	PaymentTime    string  `dynamodbav:"payment_time,omitempty" json:"payment_time,omitempty"`
	CreatedAt      string  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      string  `dynamodbav:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// StoreSeq returns the record's seq as a typed value.
func (r OrderRecord) StoreSeq() Seq {
	return Seq(r.Seq)
}

// orderTimeLayouts are the accepted order_time formats, most common first.
var orderTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	DateLayout,
}

// OrderDate derives the aggregate day key from an order_time value.
func OrderDate(orderTime string) (string, error) {
	for _, layout := range orderTimeLayouts {
		if ts, err := time.Parse(layout, orderTime); err == nil {
			return ts.Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized order_time %q", orderTime)
}

// Contribution is one order's share of the aggregate counters, produced
// by intake for every saved or seq-resolved order with a concrete seq.
type Contribution struct {
	Seq       Seq
	OrderDate string
	OrderID   string
}

// IngestRequest is the body of an ingestion call.
type IngestRequest struct {
	Orders []OrderSubmission `json:"orders"`
}

// IngestResult summarizes one ingestion call.
type IngestResult struct {
	Saved        int `json:"saved"`
	Updated      int `json:"updated"`
	Duplicates   int `json:"duplicates"`
	StatsUpdated int `json:"stats_updated"`
}
