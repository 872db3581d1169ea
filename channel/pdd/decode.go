package pdd

import (
	"encoding/json"
	"fmt"
)

// flexString tolerates platform fields that arrive as either a JSON
// string or a bare number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

type framePeer struct {
	Role string     `json:"role"`
	UID  flexString `json:"uid"`
}

type frameGoods struct {
	GoodsID          flexString `json:"goodsID"`
	GoodsName        string     `json:"goodsName"`
	GoodsPrice       flexString `json:"goodsPrice"`
	GoodsThumbURL    string     `json:"goodsThumbUrl"`
	LinkURL          string     `json:"linkUrl"`
	Spec             string     `json:"spec"`
	OrderSequenceNo  flexString `json:"orderSequenceNo"`
	AfterSalesStatus flexString `json:"afterSalesStatus"`
	AfterSalesType   flexString `json:"afterSalesType"`
	Data             struct {
		GoodsID    flexString `json:"goodsID"`
		GoodsName  string     `json:"goodsName"`
		GoodsPrice flexString `json:"goodsPrice"`
		Spec       string     `json:"spec"`
	} `json:"data"`
}

type frameMessage struct {
	MsgID    flexString `json:"msg_id"`
	Nickname string     `json:"nickname"`
	Type     *int       `json:"type"`
	SubType  *int       `json:"sub_type"`
	Content  string     `json:"content"`
	Time     int64      `json:"time"`
	From     framePeer  `json:"from"`
	To       framePeer  `json:"to"`
	Info     frameGoods `json:"info"`
	Data     struct {
		UserID flexString `json:"user_id"`
	} `json:"data"`
}

type frame struct {
	Response string     `json:"response"`
	UID      flexString `json:"uid"`
	Status   flexString `json:"status"`
	Auth     struct {
		Result int `json:"result"`
	} `json:"auth"`
	// Emotion descriptions and withdraw hints ride outside the message
	// object on this wire.
	Info struct {
		Description  string `json:"description"`
		WithdrawHint string `json:"withdraw_hint"`
	} `json:"info"`
	Message frameMessage `json:"message"`
}

// Decode parses one websocket frame into a typed event. It never returns
// a nil event without an error: frames the platform may add later come
// back as KindSystemStatus or KindUnknown rather than failing.
func Decode(raw []byte) (*Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &DecodeError{Reason: err.Error(), Frame: raw}
	}

	ev := &Event{
		MsgID:    string(f.Message.MsgID),
		Nickname: f.Message.Nickname,
		FromRole: f.Message.From.Role,
		FromUID:  string(f.Message.From.UID),
		ToRole:   f.Message.To.Role,
		ToUID:    string(f.Message.To.UID),
		Ts:       f.Message.Time,
		Raw:      raw,
	}

	// Frames sent by another seat of the same mall short-circuit the
	// type table: they carry operator text, not buyer content.
	if ev.FromRole == "mall_cs" {
		ev.Kind = KindMallCs
		ev.Content = f.Message.Content
		return ev, nil
	}

	switch f.Response {
	case "push":
		decodePush(&f, ev)
	case "auth":
		ev.Kind = KindAuth
		ev.Auth = &AuthInfo{
			UID:    string(f.UID),
			Result: f.Auth.Result,
			Status: string(f.Status),
		}
	case "mall_system_msg":
		ev.Kind = KindMallSystemMsg
		ev.MallUserID = string(f.Message.Data.UserID)
	default:
		ev.Kind = KindSystemStatus
		ev.Content = fmt.Sprintf("不支持的消息类型: %s", f.Response)
	}
	return ev, nil
}

func decodePush(f *frame, ev *Event) {
	if f.Message.Type == nil {
		ev.Kind = KindSystemStatus
		ev.Content = "不支持的消息类型: null"
		return
	}

	switch *f.Message.Type {
	case 0:
		decodeTypeZero(f, ev)
	case 1:
		ev.Kind = KindImage
		ev.Content = f.Message.Content
	case 14:
		ev.Kind = KindVideo
		ev.Content = f.Message.Content
	case 1002:
		ev.Kind = KindWithdraw
		ev.Content = f.Info.WithdrawHint
	case 5:
		ev.Kind = KindEmotion
		ev.Content = f.Info.Description
	case 64:
		ev.Kind = KindGoodsSpec
		ev.Goods = &GoodsInfo{
			GoodsID: string(f.Message.Info.Data.GoodsID),
			Name:    f.Message.Info.Data.GoodsName,
			Price:   string(f.Message.Info.Data.GoodsPrice),
			Spec:    f.Message.Info.Data.Spec,
		}
	case 24:
		ev.Kind = KindTransfer
		ev.Transfer = &TransferInfo{
			FromUID: string(f.Message.From.UID),
			ToUID:   string(f.Message.To.UID),
		}
	default:
		ev.Kind = KindSystemStatus
		ev.Content = fmt.Sprintf("不支持的消息类型: %d", *f.Message.Type)
	}
}

// Type zero frames split on sub_type: 1 is an order card, 0 a goods
// inquiry, anything else plain text.
func decodeTypeZero(f *frame, ev *Event) {
	if f.Message.SubType != nil {
		switch *f.Message.SubType {
		case 1:
			ev.Kind = KindOrderInfo
			ev.Order = &OrderInfo{
				OrderID:          string(f.Message.Info.OrderSequenceNo),
				GoodsID:          string(f.Message.Info.GoodsID),
				GoodsName:        f.Message.Info.GoodsName,
				AfterSalesStatus: string(f.Message.Info.AfterSalesStatus),
				AfterSalesType:   string(f.Message.Info.AfterSalesType),
				Spec:             f.Message.Info.Spec,
			}
			return
		case 0:
			ev.Kind = KindGoodsInquiry
			ev.Goods = &GoodsInfo{
				GoodsID:  string(f.Message.Info.GoodsID),
				Name:     f.Message.Info.GoodsName,
				Price:    string(f.Message.Info.GoodsPrice),
				ThumbURL: f.Message.Info.GoodsThumbURL,
				LinkURL:  f.Message.Info.LinkURL,
			}
			return
		}
	}
	ev.Kind = KindText
	ev.Content = f.Message.Content
}
