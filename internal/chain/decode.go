package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"daoharvest/internal/model"
)

// Decoder names and decodes logs using a contract's normalized ABI.
// Logs from unverified contracts, or events the ABI cannot express,
// pass through undecoded; the raw topics and data are always kept.
type Decoder struct {
	events map[common.Hash]decoderEvent
}

type decoderEvent struct {
	name       string
	indexed    abi.Arguments
	nonIndexed abi.Arguments
}

// NewDecoder builds a decoder from a normalized ABI record. A nil record
// yields a decoder that decodes nothing.
func NewDecoder(rec *model.AbiRecord) *Decoder {
	d := &Decoder{events: make(map[common.Hash]decoderEvent)}
	if rec == nil {
		return d
	}

	for _, entry := range rec.Entries {
		if entry.Type != "event" || entry.Anonymous {
			continue
		}
		args, ok := buildArguments(entry.Inputs)
		if !ok {
			continue
		}
		topic0 := crypto.Keccak256Hash([]byte(entry.Signature))
		d.events[topic0] = decoderEvent{
			name:       entry.Name,
			indexed:    indexedArgs(args),
			nonIndexed: args.NonIndexed(),
		}
	}
	return d
}

// Decode returns the event name and named parameter values for a log, or
// ("", nil) when the log cannot be decoded.
func (d *Decoder) Decode(log types.Log) (string, map[string]string) {
	if len(log.Topics) == 0 {
		return "", nil
	}
	ev, ok := d.events[log.Topics[0]]
	if !ok {
		return "", nil
	}

	values := make(map[string]interface{})
	if len(ev.indexed) > 0 {
		if len(log.Topics) < len(ev.indexed)+1 {
			return "", nil
		}
		if err := abi.ParseTopicsIntoMap(values, ev.indexed, log.Topics[1:len(ev.indexed)+1]); err != nil {
			return "", nil
		}
	}
	if len(ev.nonIndexed) > 0 {
		if err := ev.nonIndexed.UnpackIntoMap(values, log.Data); err != nil {
			return "", nil
		}
	}

	params := make(map[string]string, len(values))
	for name, v := range values {
		params[name] = stringifyParam(v)
	}
	return ev.name, params
}

// buildArguments reconstructs abi.Arguments from normalized params.
// Types the reflection layer cannot express, such as tuples, make the
// whole event undecodable.
func buildArguments(params []model.AbiParam) (abi.Arguments, bool) {
	args := make(abi.Arguments, 0, len(params))
	for i, p := range params {
		typ, err := abi.NewType(p.Type, "", nil)
		if err != nil {
			return nil, false
		}
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		args = append(args, abi.Argument{Name: name, Type: typ, Indexed: p.Indexed})
	}
	return args, true
}

func indexedArgs(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func stringifyParam(v interface{}) string {
	switch val := v.(type) {
	case common.Address:
		return strings.ToLower(val.Hex())
	case common.Hash:
		return val.Hex()
	case *big.Int:
		return val.String()
	case []byte:
		return hexutil.Encode(val)
	case [32]byte:
		return hexutil.Encode(val[:])
	case bool:
		return fmt.Sprintf("%t", val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// buildEventRecord converts one raw log plus optional decode output.
func buildEventRecord(chainID uint64, address string, log types.Log, name string, params map[string]string) model.EventRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, t := range log.Topics {
		topics = append(topics, t.Hex())
	}
	return model.EventRecord{
		Address:     address,
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		EventName:   name,
		Params:      params,
	}
}
