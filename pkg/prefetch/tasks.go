package prefetch

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"

	"github.com/ethpandaops/trace-decoder/pkg/store"
)

const (
	// AddressPrefetchTaskType resolves a contract address ahead of any trace using it.
	AddressPrefetchTaskType = "address_prefetch"
)

// AddressPayload is the payload of an address prefetch task.
type AddressPayload struct {
	Address string `json:"address"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *AddressPayload) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *AddressPayload) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewAddressPrefetchTask creates a prefetch task for a lower-cased address.
func NewAddressPrefetchTask(address string) (*asynq.Task, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}

	payload := &AddressPayload{Address: store.NormalizeAddress(address)}

	data, err := payload.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(AddressPrefetchTaskType, data), nil
}

// taskID deduplicates prefetches of the same address while one is pending.
func taskID(address string) string {
	return fmt.Sprintf("%s:%s", AddressPrefetchTaskType, store.NormalizeAddress(address))
}
