package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// UnitKind is what a registry event minted.
type UnitKind string

const (
	KindService   UnitKind = "service"
	KindAgent     UnitKind = "agent"
	KindComponent UnitKind = "component"
)

// UnitRegistry.UnitType values.
const (
	unitTypeComponent = 0
	unitTypeAgent     = 1
)

// TrackedEvent is a decoded registry log.
type TrackedEvent struct {
	Chain           string    `json:"chain"`
	ContractName    string    `json:"contract_name"`
	ContractAddress string    `json:"contract_address"`
	EventName       string    `json:"event_name"`
	UnitID          uint64    `json:"unit_id"`
	UnitType        UnitKind  `json:"unit_type"`
	BlockNumber     uint64    `json:"block_number"`
	TxHash          string    `json:"tx_hash"`
	LogIndex        uint      `json:"log_index"`
	Raw             types.Log `json:"-"`
}

func decodeEvent(contractABI abi.ABI, eventName string, log types.Log) (TrackedEvent, error) {
	ev, ok := contractABI.Events[eventName]
	if !ok {
		return TrackedEvent{}, fmt.Errorf("event %s not in abi", eventName)
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return TrackedEvent{}, fmt.Errorf("%w: %s in tx %s", ErrSignatureMismatch, eventName, log.TxHash.Hex())
	}

	fields := make(map[string]any)
	if len(log.Data) > 0 {
		if err := contractABI.UnpackIntoMap(fields, eventName, log.Data); err != nil {
			return TrackedEvent{}, fmt.Errorf("%w: unpack %s: %v", ErrSignatureMismatch, eventName, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
			return TrackedEvent{}, fmt.Errorf("%w: topics %s: %v", ErrSignatureMismatch, eventName, err)
		}
	}

	out := TrackedEvent{
		EventName:       eventName,
		ContractAddress: log.Address.Hex(),
		BlockNumber:     log.BlockNumber,
		TxHash:          log.TxHash.Hex(),
		LogIndex:        log.Index,
		Raw:             log,
	}
	switch eventName {
	case "CreateService":
		id, err := uintField(fields, "serviceId")
		if err != nil {
			return TrackedEvent{}, err
		}
		out.UnitID, out.UnitType = id, KindService
	case "CreateUnit":
		id, err := uintField(fields, "unitId")
		if err != nil {
			return TrackedEvent{}, err
		}
		uType, ok := fields["uType"].(uint8)
		if !ok {
			return TrackedEvent{}, fmt.Errorf("CreateUnit: missing uType")
		}
		out.UnitID = id
		switch uType {
		case unitTypeComponent:
			out.UnitType = KindComponent
		case unitTypeAgent:
			out.UnitType = KindAgent
		default:
			return TrackedEvent{}, fmt.Errorf("CreateUnit: unknown unit type %d", uType)
		}
	default:
		return TrackedEvent{}, fmt.Errorf("no decoder for event %s", eventName)
	}
	return out, nil
}

func uintField(fields map[string]any, name string) (uint64, error) {
	v, ok := fields[name].(*big.Int)
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %s", name)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s out of range: %s", name, v)
	}
	return v.Uint64(), nil
}
