package orders

// TopicLifecycle carries every order event; one topic keeps per-order ordering.
const TopicLifecycle = "bookstore.order.lifecycle"

// Partition key = order id, so all events of one order stay in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
