package query

import (
	"encoding/json"
	"errors"
)

// ChannelRef names one requested (device, control) pair in the order
// given in the request, which is what ver=1 responses index into by
// position.
type ChannelRef struct {
	Device  string
	Control string
}

// Request is a parsed and validated history/get_values request.
type Request struct {
	Ver         int
	Channels    []ChannelRef
	TimestampGT float64
	TimestampLT float64
	UidGT       int64
	Limit       int
	MinInterval int // milliseconds
}

const (
	defaultTimestampGT = 0
	defaultTimestampLT = 10675199167
	defaultUidGT       = -1
	defaultLimit       = -1
)

type wireRequest struct {
	Ver       *int              `json:"ver"`
	Channels  []json.RawMessage `json:"channels"`
	Timestamp struct {
		Gt *float64 `json:"gt"`
		Lt *float64 `json:"lt"`
	} `json:"timestamp"`
	Uid struct {
		Gt *int64 `json:"gt"`
	} `json:"uid"`
	Limit       *int `json:"limit"`
	MinInterval *int `json:"min_interval"`
}

// ParseRequest decodes and validates raw as a history/get_values
// request, applying every documented default.
func ParseRequest(raw json.RawMessage) (Request, error) {
	var wire wireRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Request{}, err
	}

	req := Request{
		TimestampGT: defaultTimestampGT,
		TimestampLT: defaultTimestampLT,
		UidGT:       defaultUidGT,
		Limit:       defaultLimit,
	}

	if wire.Ver != nil {
		req.Ver = *wire.Ver
	}
	if req.Ver != 0 && req.Ver != 1 {
		return Request{}, errors.New("unsupported request version")
	}

	if len(wire.Channels) == 0 {
		return Request{}, errors.New("no channels specified")
	}
	req.Channels = make([]ChannelRef, len(wire.Channels))
	for i, raw := range wire.Channels {
		var pair []string
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return Request{}, errors.New("'channels' items must be an arrays of size two")
		}
		req.Channels[i] = ChannelRef{Device: pair[0], Control: pair[1]}
	}

	if wire.Timestamp.Gt != nil {
		req.TimestampGT = *wire.Timestamp.Gt
	}
	if wire.Timestamp.Lt != nil {
		req.TimestampLT = *wire.Timestamp.Lt
	}
	if wire.Uid.Gt != nil {
		req.UidGT = *wire.Uid.Gt
	}
	if wire.Limit != nil {
		req.Limit = *wire.Limit
	}
	if wire.MinInterval != nil && *wire.MinInterval > 0 {
		req.MinInterval = *wire.MinInterval
	}

	return req, nil
}
