// decode.go — 按 type 的标签联合解码。
//
// 取代对 payload 的动态字段嗅探: 每种事件类型解到对应结构体并做最小校验,
// 未知/畸形载荷返回显式错误, 由调用方记录后丢弃。
package events

import (
	"encoding/json"

	apperrors "github.com/mindgrid/go-chat-v2/pkg/errors"
)

// DecodeFrame 解析一条原始帧为信封。type 缺失时兜底为 "unknown"。
// 接收时间戳由传输层补写。
//
// 容错策略: 整帧非法 JSON 返回 ErrDecode, 调用方丢帧继续; 不中断流。
func DecodeFrame(raw []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, apperrors.Wrap(apperrors.ErrDecode, "events.DecodeFrame", err.Error())
	}
	if evt.Type == "" {
		evt.Type = TypeUnknown
	}
	return evt, nil
}

// Decode 将信封的 Data 解为类型化载荷。
//
// 返回值按 Type:
//
//	content-chunk    → ChunkData
//	message-update   → MessagePayload
//	completed        → MessagePayload
//	cancelled        → CancellationData
//	messages-deleted → DeletionData
//	scan-progress    → ScanProgressData
//	token-stats      → TokenStatsData
//	debug-entry      → DebugEntryData
//	process-log      → ProcessLogData
//
// 其余类型 (含 "unknown") 返回 ErrDecode。
func Decode(evt Event) (any, error) {
	switch evt.Type {
	case TypeContentChunk:
		var d ChunkData
		if err := unmarshalData(evt, &d); err != nil {
			return nil, err
		}
		return d, nil

	case TypeMessageUpdate, TypeCompleted:
		var d MessagePayload
		if err := unmarshalData(evt, &d); err != nil {
			return nil, err
		}
		if d.ID == "" {
			return nil, apperrors.Wrap(apperrors.ErrDecode, "events.Decode", "message payload missing id")
		}
		return d, nil

	case TypeCancelled:
		var d CancellationData
		if err := unmarshalData(evt, &d); err != nil {
			return nil, err
		}
		if d.MessageID == "" {
			return nil, apperrors.Wrap(apperrors.ErrDecode, "events.Decode", "cancellation missing messageId")
		}
		return d, nil

	case TypeMessagesDeleted:
		var d DeletionData
		if err := unmarshalData(evt, &d); err != nil {
			return nil, err
		}
		return d, nil

	case TypeScanProgress:
		var d ScanProgressData
		if err := unmarshalData(evt, &d); err != nil {
			return nil, err
		}
		if d.Stage == "" {
			return nil, apperrors.Wrap(apperrors.ErrDecode, "events.Decode", "scan progress missing stage")
		}
		return d, nil

	case TypeTokenStats:
		var d TokenStatsData
		if err := unmarshalData(evt, &d); err != nil {
			return nil, err
		}
		return d, nil

	case TypeDebugEntry:
		var d DebugEntryData
		if err := unmarshalData(evt, &d); err != nil {
			return nil, err
		}
		return d, nil

	case TypeProcessLog:
		var d ProcessLogData
		if err := unmarshalData(evt, &d); err != nil {
			return nil, err
		}
		return d, nil
	}

	return nil, apperrors.Wrapf(apperrors.ErrDecode, "events.Decode", "unknown event type %q", evt.Type)
}

func unmarshalData(evt Event, out any) error {
	if len(evt.Data) == 0 {
		// data 缺失按空对象处理, 由各 case 的必填校验兜底
		return nil
	}
	if err := json.Unmarshal(evt.Data, out); err != nil {
		return apperrors.Wrapf(apperrors.ErrDecode, "events.Decode", "%s payload: %v", evt.Type, err)
	}
	return nil
}
