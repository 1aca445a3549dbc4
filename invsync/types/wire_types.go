package types

import (
	"fmt"

	"github.com/spacemeshos/go-scale"

	"github.com/overlaydex/go-overlay/codec"
	"github.com/overlaydex/go-overlay/hash"
	"github.com/overlaydex/go-overlay/p2p"
)

const (
	MsgInventoryRequest p2p.MessageType = iota + 1
	MsgInventoryResponse
)

const (
	// MaxInventoryRequestSize bounds the encoded size of an InventoryRequest
	// carrying MaxFilterEntries entries: filter type, entry count, entries
	// and nonce.
	MaxInventoryRequestSize = 1 + maxCompact32Size + MaxFilterEntries*(hash.Size+maxCompact32Size) + 4
	// InventoryResponseOverhead is the encoded size of an InventoryResponse
	// besides its Inventory.
	InventoryResponseOverhead = 4
)

// requestCostFactor is the priority hint used by transports for anti-spam scoring.
const requestCostFactor = 0.25

// InventoryRequest asks a peer for the entries missing from Filter.
type InventoryRequest struct {
	Filter DataFilter
	Nonce  int32
}

var _ p2p.Message = (*InventoryRequest)(nil)

func (*InventoryRequest) Type() p2p.MessageType { return MsgInventoryRequest }

// CostFactor is the relative cost of serving the request.
func (*InventoryRequest) CostFactor() float64 { return requestCostFactor }

// EncodeScale implements scale.Encodable.
func (r *InventoryRequest) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := r.Filter.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeUint32(enc, uint32(r.Nonce))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (r *InventoryRequest) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := r.Filter.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeUint32(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.Nonce = int32(field)
	}
	return total, nil
}

// InventoryResponse answers the InventoryRequest with the same nonce.
type InventoryResponse struct {
	Inventory    Inventory
	RequestNonce int32
}

var _ p2p.Message = (*InventoryResponse)(nil)

func (*InventoryResponse) Type() p2p.MessageType { return MsgInventoryResponse }

// EncodeScale implements scale.Encodable.
func (r *InventoryResponse) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := r.Inventory.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeUint32(enc, uint32(r.RequestNonce))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (r *InventoryResponse) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := r.Inventory.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeUint32(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.RequestNonce = int32(field)
	}
	return total, nil
}

// DecodeMessage is the p2p.Decoder for inventory messages.
func DecodeMessage(t p2p.MessageType, data []byte) (p2p.Message, error) {
	var msg p2p.Message
	switch t {
	case MsgInventoryRequest:
		msg = &InventoryRequest{}
	case MsgInventoryResponse:
		msg = &InventoryResponse{}
	default:
		return nil, fmt.Errorf("%w: %d", p2p.ErrUnknownMessage, t)
	}
	if err := codec.Decode(data, msg.(codec.Decodable)); err != nil {
		return nil, fmt.Errorf("decode %T: %w", msg, err)
	}
	return msg, nil
}
