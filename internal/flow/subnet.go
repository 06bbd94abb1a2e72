// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"math/big"
	"net"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// AllocateSubnet carves the index-th sub-prefix of length subLen out of
// base/baseLen, returning the sub-network address and its router
// address (network + 1). baseLen must be <= subLen, and index must be
// < 2^(subLen-baseLen).
//
// Two distinct indices never return overlapping prefixes, and the
// router address always differs from the network address by exactly 1.
func AllocateSubnet(base net.IP, baseLen, subLen, index int) (subnet net.IP, router net.IP, err error) {
	ip := base.To16()
	if ip == nil {
		return nil, nil, flywallerrors.Errorf(flywallerrors.KindValidation, "allocate_subnet: invalid base address %v", base)
	}
	bitLen := 128
	if base.To4() != nil && subLen <= 32 && baseLen <= 32 {
		ip = base.To4()
		bitLen = 32
	}
	if baseLen > subLen {
		return nil, nil, flywallerrors.Errorf(flywallerrors.KindValidation, "allocate_subnet: base_len %d must be <= sub_len %d", baseLen, subLen)
	}
	shift := subLen - baseLen
	maxIndex := 1 << uint(shift)
	if shift >= 64 {
		maxIndex = -1 // effectively unbounded for our purposes
	}
	if maxIndex >= 0 && index >= maxIndex {
		return nil, nil, flywallerrors.Errorf(flywallerrors.KindValidation, "allocate_subnet: index %d out of range for sub_len-base_len=%d (max %d)", index, shift, maxIndex)
	}

	baseInt := new(big.Int).SetBytes(ip)
	idx := new(big.Int).SetInt64(int64(index))
	idx.Lsh(idx, uint(bitLen-subLen))
	subInt := new(big.Int).Or(baseInt, idx)

	subMask := net.CIDRMask(subLen, bitLen)
	subBytes := make([]byte, bitLen/8)
	subInt.FillBytes(subBytes)
	subnetIP := net.IP(subBytes).Mask(subMask)

	routerInt := new(big.Int).SetBytes(subnetIP)
	routerInt.Add(routerInt, big.NewInt(1))
	routerBytes := make([]byte, bitLen/8)
	routerInt.FillBytes(routerBytes)

	return subnetIP, net.IP(routerBytes), nil
}
