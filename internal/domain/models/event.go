package models

// MessageType tags an EventBus message.
type MessageType string

const (
	MessageRound         MessageType = "round"
	MessageSignal        MessageType = "signal"
	MessageSignalCleared MessageType = "signal_cleared"
	MessageBet           MessageType = "bet"
	MessageRisk          MessageType = "risk"
)

// BusMessage is the broadcast contract: {type, data}. SourceID is carried for
// routing and partitioning; it is also present inside every payload.
type BusMessage struct {
	Type     MessageType `json:"type"`
	SourceID string      `json:"source_id"`
	Data     interface{} `json:"data"`
}

// SignalCleared is the payload of a signal_cleared message.
type SignalCleared struct {
	SourceID string `json:"source_id"`
	RoundID  int64  `json:"round_id"`
}

// RiskUpdate is the payload of a risk message.
type RiskUpdate struct {
	BotID string    `json:"bot_id"`
	State RiskState `json:"state"`
}

func NewRoundMessage(e RoundEvent) BusMessage {
	return BusMessage{Type: MessageRound, SourceID: e.SourceID, Data: e}
}

func NewSignalMessage(s SequenceSignal) BusMessage {
	return BusMessage{Type: MessageSignal, SourceID: s.SourceID, Data: s}
}

func NewSignalClearedMessage(sourceID string, roundID int64) BusMessage {
	return BusMessage{Type: MessageSignalCleared, SourceID: sourceID, Data: SignalCleared{SourceID: sourceID, RoundID: roundID}}
}

func NewBetMessage(h HistoryItem) BusMessage {
	return BusMessage{Type: MessageBet, SourceID: h.SourceID, Data: h}
}

func NewRiskMessage(sourceID, botID string, s RiskState) BusMessage {
	return BusMessage{Type: MessageRisk, SourceID: sourceID, Data: RiskUpdate{BotID: botID, State: s}}
}

// Round returns the payload of a round message.
func (m BusMessage) Round() (RoundEvent, bool) {
	if m.Type != MessageRound {
		return RoundEvent{}, false
	}
	switch v := m.Data.(type) {
	case RoundEvent:
		return v, true
	case *RoundEvent:
		if v != nil {
			return *v, true
		}
	}
	return RoundEvent{}, false
}
