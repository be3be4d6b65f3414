package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
	apperrors "github.com/koopa0/system-design/14-arena-server/pkg/errors"
)

// Codec 線上格式
//
// 兩種格式共用同一組 json 標籤，欄位名稱在 JSON 與 MessagePack 下一致。
type Codec interface {
	// Name 格式名稱（json / msgpack）
	Name() string
	// FrameType WebSocket 訊框類型
	FrameType() int
	// Decode 解析一個上行訊框
	Decode(frame []byte) (Request, error)
	// Encode 序列化一個下行事件
	Encode(ev game.Event) ([]byte, error)
}

// NewCodec 依名稱建立 codec
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown wire codec %q", name)
}

// JSONCodec 文字訊框，{"type": "...", "data": {...}}
type JSONCodec struct{}

func (JSONCodec) Name() string   { return "json" }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

// Decode 解析 JSON 請求
func (JSONCodec) Decode(frame []byte) (Request, error) {
	var env struct {
		Type Type            `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedRequest, "decode envelope")
	}

	hasData := len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null"))
	return decodeRequest(env.Type, hasData, func(v any) error {
		return json.Unmarshal(env.Data, v)
	})
}

// Encode 序列化為 JSON
func (JSONCodec) Encode(ev game.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	return data, nil
}

// MsgpackCodec 二進位訊框，結構與 JSON 相同
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string   { return "msgpack" }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

// Decode 解析 MessagePack 請求
func (MsgpackCodec) Decode(frame []byte) (Request, error) {
	var env struct {
		Type Type               `json:"type"`
		Data msgpack.RawMessage `json:"data"`
	}
	if err := unmarshalMsgpack(frame, &env); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedRequest, "decode envelope")
	}

	// 0xc0 為 msgpack nil
	hasData := len(env.Data) > 0 && !(len(env.Data) == 1 && env.Data[0] == 0xc0)
	return decodeRequest(env.Type, hasData, func(v any) error {
		return unmarshalMsgpack(env.Data, v)
	})
}

// Encode 序列化為 MessagePack
func (MsgpackCodec) Encode(ev game.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	return buf.Bytes(), nil
}

func unmarshalMsgpack(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
