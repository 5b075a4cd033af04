package redisx

import "time"

const (
	// Cached order document: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Processed keys per consumer: dedup:{service}:{id}. Notifications use
	// service "notify" and id {order_id}:{document_kind}.
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
