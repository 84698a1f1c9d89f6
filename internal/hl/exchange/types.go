package exchange

type Tif string

const (
	TifAlo Tif = "Alo"
	TifIoc Tif = "Ioc"
	TifGtc Tif = "Gtc"
)

type LimitOrderType struct {
	Tif Tif `json:"tif"`
}

type OrderTypeWire struct {
	Limit *LimitOrderType `json:"limit,omitempty"`
}

type OrderWire struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	Price      string        `json:"p"`
	Size       string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	OrderType  OrderTypeWire `json:"t"`
	Cloid      string        `json:"c,omitempty"`
}

type OrderAction struct {
	Type     string      `json:"type"`
	Orders   []OrderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

// ModifyAction amends a resting order in place. Oid is either a numeric
// order id or a client order id string.
type ModifyAction struct {
	Type  string    `json:"type"`
	Oid   any       `json:"oid"`
	Order OrderWire `json:"order"`
}

type CancelByCloidWire struct {
	Asset int    `json:"asset"`
	Cloid string `json:"cloid"`
}

type CancelByCloidAction struct {
	Type    string              `json:"type"`
	Cancels []CancelByCloidWire `json:"cancels"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type SignedAction struct {
	Action       any       `json:"action"`
	Nonce        uint64    `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}
