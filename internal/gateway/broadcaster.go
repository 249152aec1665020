package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/hw3579/trading-bot/internal/model"
)

// encodeSignal builds the push envelope
//
//	{"type":"signal","schema_version":1,"seq":N,"data":{...}}
//
// by hand so the signal body is marshalled once per publish.
func encodeSignal(seq int64, sig *model.Signal) []byte {
	data := sig.JSON()
	buf := make([]byte, 0, len(data)+64)
	buf = append(buf, `{"type":"signal","schema_version":`...)
	buf = strconv.AppendInt(buf, int64(sig.SchemaVersion), 10)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}

// Welcome is the first message every push client receives.
type Welcome struct {
	Type          string    `json:"type"`
	SchemaVersion int       `json:"schema_version"`
	ServerTime    time.Time `json:"server_time"`
	Subscribers   int       `json:"subscribers"`
	Seq           int64     `json:"seq"`
}

func encodeWelcome(subscribers int, seq int64, now time.Time) []byte {
	b, _ := json.Marshal(Welcome{
		Type:          "welcome",
		SchemaVersion: model.SchemaVersion,
		ServerTime:    now.UTC(),
		Subscribers:   subscribers,
		Seq:           seq,
	})
	return b
}

type reply struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Filter  any    `json:"filter,omitempty"`
	Ping    int64  `json:"ping,omitempty"`
	Server  int64  `json:"server_ts,omitempty"`
}

func encodeReply(r reply) []byte {
	b, _ := json.Marshal(r)
	return b
}
