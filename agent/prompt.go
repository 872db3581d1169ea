// Package agent turns buyer events into AI replies through the Coze
// chat API, with one persistent conversation per buyer.
package agent

import (
	"encoding/json"
	"fmt"

	"github.com/yinjg1997/customer-agent/channel/pdd"
)

type promptSegment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Normalize flattens a buyer event into the object_string payload the bot
// consumes. Every kind becomes a single text segment.
func Normalize(ev *pdd.Event) string {
	var text string
	switch ev.Kind {
	case pdd.KindGoodsInquiry, pdd.KindGoodsSpec:
		goods := ev.Goods
		if goods == nil {
			goods = &pdd.GoodsInfo{}
		}
		text = fmt.Sprintf("商品：%s,商品价格：%s,商品规格：%s", goods.Name, goods.Price, goods.Spec)
	case pdd.KindOrderInfo:
		order := ev.Order
		if order == nil {
			order = &pdd.OrderInfo{}
		}
		text = fmt.Sprintf("订单：%s，商品：%s", order.OrderID, order.GoodsName)
	case pdd.KindEmotion:
		text = fmt.Sprintf("表情: %s", ev.Content)
	case pdd.KindImage:
		text = fmt.Sprintf("图片: %s", ev.Content)
	case pdd.KindVideo:
		text = fmt.Sprintf("视频: %s", ev.Content)
	default:
		text = ev.Content
	}

	encoded, err := json.Marshal([]promptSegment{{Type: "text", Text: text}})
	if err != nil {
		return `[{"type":"text","text":""}]`
	}
	return string(encoded)
}
