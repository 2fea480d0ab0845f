package confirmations

import (
	"fmt"
	"time"
)

type ConfirmationType int

const (
	TYPE_GENERIC             ConfirmationType = 1
	TYPE_TRADE               ConfirmationType = 2
	TYPE_MARKET_LISTING      ConfirmationType = 3
	TYPE_FEATURE_OPT_OUT     ConfirmationType = 4
	TYPE_PHONE_NUMBER_CHANGE ConfirmationType = 5
	TYPE_ACCOUNT_RECOVERY    ConfirmationType = 6
)

func (t ConfirmationType) String() string {
	switch t {
	case TYPE_GENERIC:
		return "generic"
	case TYPE_TRADE:
		return "trade"
	case TYPE_MARKET_LISTING:
		return "market listing"
	case TYPE_FEATURE_OPT_OUT:
		return "feature opt out"
	case TYPE_PHONE_NUMBER_CHANGE:
		return "phone number change"
	case TYPE_ACCOUNT_RECOVERY:
		return "account recovery"
	}
	return fmt.Sprintf("unknown (%d)", int(t))
}

// Confirmation is one pending action waiting to be accepted or cancelled.
type Confirmation struct {
	ID   string
	Type ConfirmationType
	// CreatorID is the id of the trade offer or market listing this
	// confirmation is for, it is only unique within a type.
	CreatorID string
	// Key is the one-time nonce needed to respond to this confirmation, it is
	// not a time-based key.
	Key       string
	Title     string
	Receiving string
	Sending   string
	CreatedAt time.Time
	Icon      string

	// OfferID is filled in by ResolveOfferID, it stays empty for
	// confirmations that do not belong to a trade offer.
	OfferID       string
	OfferResolved bool
}

type rawConfirmation struct {
	Type         ConfirmationType `json:"type"`
	TypeName     string           `json:"type_name"`
	ID           string           `json:"id"`
	CreatorID    string           `json:"creator_id"`
	Nonce        string           `json:"nonce"`
	CreationTime int64            `json:"creation_time"`
	Icon         string           `json:"icon"`
	Headline     string           `json:"headline"`
	Summary      []string         `json:"summary"`
}

type listResponse struct {
	Success  bool              `json:"success"`
	NeedAuth bool              `json:"needauth"`
	Message  string            `json:"message"`
	Detail   string            `json:"detail"`
	Conf     []rawConfirmation `json:"conf"`
}

func summaryAt(summary []string, i int) string {
	if i < len(summary) {
		return summary[i]
	}
	return ""
}

func confirmationFromRaw(raw rawConfirmation) Confirmation {
	typeName := raw.TypeName
	if typeName == "" {
		typeName = "Confirm"
	}

	receiving := ""
	if raw.Type == TYPE_TRADE {
		receiving = summaryAt(raw.Summary, 1)
	}

	return Confirmation{
		ID:        raw.ID,
		Type:      raw.Type,
		CreatorID: raw.CreatorID,
		Key:       raw.Nonce,
		Title:     fmt.Sprintf("%s - %s", typeName, raw.Headline),
		Receiving: receiving,
		Sending:   summaryAt(raw.Summary, 0),
		CreatedAt: time.Unix(raw.CreationTime, 0).UTC(),
		Icon:      raw.Icon,
	}
}

func confirmationsFromRaw(raw []rawConfirmation) []Confirmation {
	confs := make([]Confirmation, len(raw))
	for i, r := range raw {
		confs[i] = confirmationFromRaw(r)
	}
	return confs
}
