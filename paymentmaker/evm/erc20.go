package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// erc20TransferSelector is the first four bytes of
// keccak256("transfer(address,uint256)"), fixed across every ERC-20 token.
var erc20TransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

// encodeTransfer builds calldata for ERC-20 transfer(to, amount), followed
// by an optional memo appended as trailing bytes. transfer ignores calldata
// past its two fixed arguments, so the memo round-trips on-chain without
// perturbing the standard ABI decoding any indexer performs.
func encodeTransfer(to common.Address, amount *big.Int, memo []byte) []byte {
	data := make([]byte, 0, 4+32+32+len(memo))
	data = append(data, erc20TransferSelector[:]...)

	var addrWord [32]byte
	copy(addrWord[12:], to.Bytes())
	data = append(data, addrWord[:]...)

	var amountWord [32]byte
	amount.FillBytes(amountWord[:])
	data = append(data, amountWord[:]...)

	data = append(data, memo...)
	return data
}
