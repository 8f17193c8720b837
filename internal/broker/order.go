package broker

// Broker-reported order status codes.
const (
	StatusUnsubmitted        = 48
	StatusPending            = 49
	StatusSubmitted          = 50
	StatusCancelPending      = 51
	StatusPartCancelPending  = 52
	StatusPartCanceled       = 53
	StatusCanceled           = 54
	StatusPartFilled         = 55
	StatusFilled             = 56
	StatusRejected           = 57
	StatusUnknown            = 255
)

var orderStatusLabels = map[int]string{
	StatusUnsubmitted:       "unsubmitted",
	StatusPending:           "pending",
	StatusSubmitted:         "submitted",
	StatusCancelPending:     "submitted, cancel pending",
	StatusPartCancelPending: "partially filled, cancel pending",
	StatusPartCanceled:      "partially canceled",
	StatusCanceled:          "canceled",
	StatusPartFilled:        "partially filled",
	StatusFilled:            "filled",
	StatusRejected:          "rejected",
	StatusUnknown:           "unknown",
}

// OrderStatusLabel maps a broker status code to a readable label.
func OrderStatusLabel(status int) string {
	if label, ok := orderStatusLabels[status]; ok {
		return label
	}

	return "unknown"
}

// Cancelable reports whether an order in the given status can still be
// canceled: submitted or partially filled.
func Cancelable(status int) bool {
	return status == StatusSubmitted || status == StatusPartFilled
}

var accountStatusLabels = map[int]string{
	-1: "invalid",
	0:  "ok",
	1:  "connecting",
	2:  "logging in",
	3:  "failed",
	4:  "initializing",
	5:  "refreshing data",
	6:  "after close",
	7:  "secondary link down",
	8:  "locked out",
	9:  "disabled",
}

// AccountStatusLabel maps a push account-status code to a readable label.
func AccountStatusLabel(code int) string {
	if label, ok := accountStatusLabels[code]; ok {
		return label
	}

	return "unknown"
}

// OrderRecord is a broker-reported order snapshot.
type OrderRecord struct {
	OrderID      OrderID   `json:"order_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"-"`
	Status       int       `json:"status"`
	Volume       int64     `json:"volume"`
	Price        float64   `json:"price"`
	PriceMode    PriceMode `json:"price_type"`
	TradedVolume int64     `json:"traded_volume"`
	TradedPrice  float64   `json:"traded_price"`
	SubmittedAt  int64     `json:"time"`
	StrategyTag  string    `json:"strategy_name"`
}
