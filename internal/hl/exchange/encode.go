package exchange

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// Actions are hashed over their msgpack encoding, so key order must match the
// venue's reference encoder exactly. Each action type writes its own map.

func (a OrderAction) EncodeMsgpack(enc *msgpack.Encoder) error {
	if a.Type == "" {
		return errors.New("action type is required")
	}
	if len(a.Orders) == 0 {
		return errors.New("action orders are required")
	}
	grouping := a.Grouping
	if grouping == "" {
		grouping = "na"
	}
	w := mapWriter{enc: enc}
	w.header(3)
	w.str("type", a.Type)
	w.key("orders")
	w.arrayLen(len(a.Orders))
	for _, order := range a.Orders {
		w.order(order)
	}
	w.str("grouping", grouping)
	return w.err
}

func (a ModifyAction) EncodeMsgpack(enc *msgpack.Encoder) error {
	if a.Type == "" {
		return errors.New("action type is required")
	}
	w := mapWriter{enc: enc}
	w.header(3)
	w.str("type", a.Type)
	w.key("oid")
	switch oid := a.Oid.(type) {
	case string:
		if oid == "" {
			return errors.New("modify oid is required")
		}
		w.value(oid)
	case int64:
		w.value(oid)
	case int:
		w.value(int64(oid))
	default:
		return errors.New("modify oid must be a cloid or an order id")
	}
	w.key("order")
	w.order(a.Order)
	return w.err
}

func (a CancelByCloidAction) EncodeMsgpack(enc *msgpack.Encoder) error {
	if a.Type == "" {
		return errors.New("action type is required")
	}
	if len(a.Cancels) == 0 {
		return errors.New("action cancels are required")
	}
	w := mapWriter{enc: enc}
	w.header(2)
	w.str("type", a.Type)
	w.key("cancels")
	w.arrayLen(len(a.Cancels))
	for _, cancel := range a.Cancels {
		w.header(2)
		w.key("asset")
		w.value(int64(cancel.Asset))
		w.str("cloid", cancel.Cloid)
	}
	return w.err
}

func encodeAction(action msgpack.CustomEncoder) ([]byte, error) {
	return msgpack.Marshal(action)
}

// mapWriter keeps the first encoder error so the action encoders read linearly.
type mapWriter struct {
	enc *msgpack.Encoder
	err error
}

func (w *mapWriter) header(n int) {
	if w.err == nil {
		w.err = w.enc.EncodeMapLen(n)
	}
}

func (w *mapWriter) arrayLen(n int) {
	if w.err == nil {
		w.err = w.enc.EncodeArrayLen(n)
	}
}

func (w *mapWriter) key(k string) {
	if w.err == nil {
		w.err = w.enc.EncodeString(k)
	}
}

func (w *mapWriter) str(k, v string) {
	w.key(k)
	if w.err == nil {
		w.err = w.enc.EncodeString(v)
	}
}

func (w *mapWriter) value(v any) {
	if w.err != nil {
		return
	}
	switch val := v.(type) {
	case string:
		w.err = w.enc.EncodeString(val)
	case int64:
		w.err = w.enc.EncodeInt(val)
	case bool:
		w.err = w.enc.EncodeBool(val)
	default:
		w.err = w.enc.Encode(val)
	}
}

func (w *mapWriter) order(order OrderWire) {
	if order.OrderType.Limit == nil {
		if w.err == nil {
			w.err = errors.New("limit order type required")
		}
		return
	}
	n := 6
	if order.Cloid != "" {
		n++
	}
	w.header(n)
	w.key("a")
	w.value(int64(order.Asset))
	w.key("b")
	w.value(order.IsBuy)
	w.str("p", order.Price)
	w.str("s", order.Size)
	w.key("r")
	w.value(order.ReduceOnly)
	w.key("t")
	w.header(1)
	w.key("limit")
	w.header(1)
	w.str("tif", string(order.OrderType.Limit.Tif))
	if order.Cloid != "" {
		w.str("c", order.Cloid)
	}
}
