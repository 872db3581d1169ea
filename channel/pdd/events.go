// Package pdd integrates the Pinduoduo merchant chat channel: the
// websocket ingress, the typed event model and the merchant HTTP API.
package pdd

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a decoded websocket event.
type Kind int

const (
	KindUnknown Kind = iota

	// Buyer messages, dispatched per user in arrival order.
	KindText
	KindImage
	KindVideo
	KindEmotion
	KindGoodsInquiry
	KindGoodsSpec
	KindOrderInfo
	KindGoodsCard

	// Control and system events, handled as they arrive.
	KindAuth
	KindWithdraw
	KindTransfer
	KindSystemStatus
	KindSystemHint
	KindSystemBiz
	KindMallCs
	KindMallSystemMsg
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindEmotion:
		return "emotion"
	case KindGoodsInquiry:
		return "goods_inquiry"
	case KindGoodsSpec:
		return "goods_spec"
	case KindOrderInfo:
		return "order_info"
	case KindGoodsCard:
		return "goods_card"
	case KindAuth:
		return "auth"
	case KindWithdraw:
		return "withdraw"
	case KindTransfer:
		return "transfer"
	case KindSystemStatus:
		return "system_status"
	case KindSystemHint:
		return "system_hint"
	case KindSystemBiz:
		return "system_biz"
	case KindMallCs:
		return "mall_cs"
	case KindMallSystemMsg:
		return "mall_system_msg"
	default:
		return "unknown"
	}
}

// Route tells the pipeline what to do with an event kind.
type Route int

const (
	RouteDrop Route = iota
	RouteQueued
	RouteImmediate
)

// Route returns the dispatch policy for the kind. Buyer content is queued
// and replayed per user in order, control events bypass the queue, and
// unknown events are dropped.
func (k Kind) Route() Route {
	switch k {
	case KindText, KindImage, KindVideo, KindEmotion,
		KindGoodsInquiry, KindGoodsSpec, KindOrderInfo, KindGoodsCard:
		return RouteQueued
	case KindAuth, KindWithdraw, KindTransfer, KindSystemStatus,
		KindSystemHint, KindSystemBiz, KindMallCs, KindMallSystemMsg:
		return RouteImmediate
	default:
		return RouteDrop
	}
}

// GoodsInfo carries the product fields of goods inquiry and spec events.
type GoodsInfo struct {
	GoodsID  string
	Name     string
	Price    string
	ThumbURL string
	LinkURL  string
	Spec     string
}

// OrderInfo carries the order fields of an order card event.
type OrderInfo struct {
	OrderID          string
	GoodsID          string
	GoodsName        string
	AfterSalesStatus string
	AfterSalesType   string
	Spec             string
}

// AuthInfo carries the handshake acknowledgement fields.
type AuthInfo struct {
	UID    string
	Result int
	Status string
}

// TransferInfo identifies both sides of a conversation transfer.
type TransferInfo struct {
	FromUID string
	ToUID   string
}

// Event is one decoded websocket frame.
type Event struct {
	Kind     Kind
	MsgID    string
	Nickname string
	FromRole string
	FromUID  string
	ToRole   string
	ToUID    string
	Ts       int64

	// Content holds the scalar payload: text body, image or video URL,
	// emotion description, withdraw hint, or the status description for
	// system events.
	Content string

	Goods    *GoodsInfo
	Order    *OrderInfo
	Auth     *AuthInfo
	Transfer *TransferInfo

	// MallUserID is set for mall system notifications.
	MallUserID string

	// Raw is the frame as received, kept for logging and diagnosis.
	Raw json.RawMessage
}

func (e *Event) String() string {
	return fmt.Sprintf("%s from=%s:%s msg_id=%s", e.Kind, e.FromRole, e.FromUID, e.MsgID)
}
