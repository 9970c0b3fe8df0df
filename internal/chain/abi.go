package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Mainnet registries emit CreateService(serviceId) and CreateUnit(unitId,
// uType, unitHash). The L2 service registry adds the config hash to
// CreateService. Both expose the ERC-721 tokenURI getter.
const l1RegistryABI = `[
 {"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"serviceId","type":"uint256"}],"name":"CreateService","type":"event"},
 {"anonymous":false,"inputs":[{"indexed":false,"internalType":"uint256","name":"unitId","type":"uint256"},{"indexed":false,"internalType":"enum UnitRegistry.UnitType","name":"uType","type":"uint8"},{"indexed":false,"internalType":"bytes32","name":"unitHash","type":"bytes32"}],"name":"CreateUnit","type":"event"},
 {"inputs":[{"internalType":"uint256","name":"unitId","type":"uint256"}],"name":"tokenURI","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

const l2RegistryABI = `[
 {"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"serviceId","type":"uint256"},{"indexed":false,"internalType":"bytes32","name":"configHash","type":"bytes32"}],"name":"CreateService","type":"event"},
 {"inputs":[{"internalType":"uint256","name":"unitId","type":"uint256"}],"name":"tokenURI","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var (
	l1Registry = mustParseABI(l1RegistryABI)
	l2Registry = mustParseABI(l2RegistryABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse registry abi: %v", err))
	}
	return parsed
}

// RegistryABI returns the registry ABI deployed on chain. Ethereum carries
// the L1 registries; every other chain runs the L2 service registry.
func RegistryABI(chainName string) abi.ABI {
	if chainName == "ethereum" {
		return l1Registry
	}
	return l2Registry
}
