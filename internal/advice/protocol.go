package advice

import (
	"encoding/json"
	"fmt"

	"github.com/nadmax/callscope/internal/analytics"
)

type MessageType string

const (
	MsgGetAdvices             MessageType = "getAdvices"
	MsgRequestPeriod          MessageType = "requestPeriod"
	MsgPeriodResponse         MessageType = "periodResponse"
	MsgRequestProjectsConfig  MessageType = "requestProjectsConfig"
	MsgProjectsConfigResponse MessageType = "projectsConfigResponse"
	MsgRequestClientInfo      MessageType = "requestClientInfo"
	MsgClientInfoResponse     MessageType = "clientInfoResponse"
	MsgRequestStaticData      MessageType = "requestStaticData"
	MsgStaticDataResponse     MessageType = "staticDataResponse"
	MsgAdvice                 MessageType = "advice"
	MsgLoadComplete           MessageType = "loadComplete"
)

// Message is the only thing that crosses the worker boundary. Data is always
// serialized so neither side can hold a reference into the other.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s message: %w", t, err)
	}

	return Message{Type: t, Data: data}, nil
}

func (m Message) Decode(dst any) error {
	if len(m.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(m.Data, dst); err != nil {
		return fmt.Errorf("failed to decode %s message: %w", m.Type, err)
	}

	return nil
}

type PeriodRequest struct {
	SliceName string `json:"sliceName"`
}

type PeriodResponse struct {
	SliceName string             `json:"sliceName"`
	Analytics analytics.Analytic `json:"analytics,omitempty"`
	Error     string             `json:"error,omitempty"`
}

type ProjectsConfigResponse struct {
	Config analytics.ProjectsConfig `json:"config"`
	Error  string                   `json:"error,omitempty"`
}

type ClientInfoResponse struct {
	ClientInfo analytics.ClientInfo `json:"clientInfo"`
	Error      string               `json:"error,omitempty"`
}

type StaticDataRequest struct {
	Full    bool `json:"full"`
	Deleted bool `json:"deleted"`
}

type StaticDataResponse struct {
	Full       bool                 `json:"full"`
	Deleted    bool                 `json:"deleted"`
	StaticData analytics.StaticData `json:"staticData,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
