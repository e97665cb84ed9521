package dex

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"mempoolScope/internal/model"
)

type role int

const (
	roleAmountIn role = iota + 1
	roleAmountInMax
	roleAmountOut
	roleAmountOutMin
	rolePath
	roleTo
	roleDeadline
	roleTokenA
	roleTokenB
	roleToken
	roleAmountADesired
	roleAmountBDesired
	roleAmountTokenDesired
	roleAmountAMin
	roleAmountBMin
	roleAmountTokenMin
	roleAmountETHMin
	roleLiquidity
)

var (
	exactTokensInSwap = map[string]role{
		"amountIn":     roleAmountIn,
		"amountOutMin": roleAmountOutMin,
		"path":         rolePath,
		"to":           roleTo,
		"deadline":     roleDeadline,
	}
	exactETHInSwap = map[string]role{
		"amountOutMin": roleAmountOutMin,
		"path":         rolePath,
		"to":           roleTo,
		"deadline":     roleDeadline,
	}
	exactTokensOutSwap = map[string]role{
		"amountOut":   roleAmountOut,
		"amountInMax": roleAmountInMax,
		"path":        rolePath,
		"to":          roleTo,
		"deadline":    roleDeadline,
	}
	exactETHOutSwap = map[string]role{
		"amountOut": roleAmountOut,
		"path":      rolePath,
		"to":        roleTo,
		"deadline":  roleDeadline,
	}
	pairLiquidityRemoval = map[string]role{
		"tokenA":     roleTokenA,
		"tokenB":     roleTokenB,
		"liquidity":  roleLiquidity,
		"amountAMin": roleAmountAMin,
		"amountBMin": roleAmountBMin,
		"to":         roleTo,
		"deadline":   roleDeadline,
	}
	ethLiquidityRemoval = map[string]role{
		"token":          roleToken,
		"liquidity":      roleLiquidity,
		"amountTokenMin": roleAmountTokenMin,
		"amountETHMin":   roleAmountETHMin,
		"to":             roleTo,
		"deadline":       roleDeadline,
	}
)

// canonicalRoles binds argument names to canonical fields per function name.
// Functions without an entry decode with empty canonical fields.
var canonicalRoles = map[string]map[string]role{
	"swapExactTokensForTokens":                              exactTokensInSwap,
	"swapExactTokensForETH":                                 exactTokensInSwap,
	"swapExactTokensForTokensSupportingFeeOnTransferTokens": exactTokensInSwap,
	"swapExactTokensForETHSupportingFeeOnTransferTokens":    exactTokensInSwap,
	"swapExactETHForTokens":                                 exactETHInSwap,
	"swapExactETHForTokensSupportingFeeOnTransferTokens":    exactETHInSwap,
	"swapTokensForExactTokens":                              exactTokensOutSwap,
	"swapTokensForExactETH":                                 exactTokensOutSwap,
	"swapETHForExactTokens":                                 exactETHOutSwap,
	"addLiquidity": {
		"tokenA":         roleTokenA,
		"tokenB":         roleTokenB,
		"amountADesired": roleAmountADesired,
		"amountBDesired": roleAmountBDesired,
		"amountAMin":     roleAmountAMin,
		"amountBMin":     roleAmountBMin,
		"to":             roleTo,
		"deadline":       roleDeadline,
	},
	"addLiquidityETH": {
		"token":              roleToken,
		"amountTokenDesired": roleAmountTokenDesired,
		"amountTokenMin":     roleAmountTokenMin,
		"amountETHMin":       roleAmountETHMin,
		"to":                 roleTo,
		"deadline":           roleDeadline,
	},
	"removeLiquidity":                                           pairLiquidityRemoval,
	"removeLiquidityWithPermit":                                 pairLiquidityRemoval,
	"removeLiquidityETH":                                        ethLiquidityRemoval,
	"removeLiquidityETHWithPermit":                              ethLiquidityRemoval,
	"removeLiquidityETHSupportingFeeOnTransferTokens":           ethLiquidityRemoval,
	"removeLiquidityETHWithPermitSupportingFeeOnTransferTokens": ethLiquidityRemoval,
}

// canonicalize fills the canonical fields for a decoded call. Values that fail
// conversion leave their field empty.
func canonicalize(method abi.Method, values []interface{}) model.CanonicalFields {
	var fields model.CanonicalFields
	roles, ok := canonicalRoles[method.RawName]
	if !ok {
		return fields
	}
	for i, arg := range method.Inputs {
		if i >= len(values) {
			break
		}
		r, ok := roles[arg.Name]
		if !ok {
			continue
		}
		assignRole(&fields, r, values[i])
	}
	return fields
}

func assignRole(fields *model.CanonicalFields, r role, value interface{}) {
	switch r {
	case rolePath:
		path, err := asAddressSlice(value)
		if err != nil {
			return
		}
		fields.Path = make([]string, len(path))
		for i, addr := range path {
			fields.Path[i] = addr.Hex()
		}
		if len(path) > 0 {
			fields.TokenIn = path[0].Hex()
			fields.TokenOut = path[len(path)-1].Hex()
		}
	case roleTo, roleTokenA, roleTokenB, roleToken:
		addr, err := asAddress(value)
		if err != nil {
			return
		}
		*addressField(fields, r) = addr.Hex()
	default:
		amount, err := asBigInt(value)
		if err != nil {
			return
		}
		if target := amountField(fields, r); target != nil {
			*target = amount.String()
		}
	}
}

func addressField(fields *model.CanonicalFields, r role) *string {
	switch r {
	case roleTokenA:
		return &fields.TokenA
	case roleTokenB:
		return &fields.TokenB
	case roleToken:
		return &fields.Token
	default:
		return &fields.To
	}
}

func amountField(fields *model.CanonicalFields, r role) *string {
	switch r {
	case roleAmountIn:
		return &fields.AmountIn
	case roleAmountInMax:
		return &fields.AmountInMax
	case roleAmountOut:
		return &fields.AmountOut
	case roleAmountOutMin:
		return &fields.AmountOutMin
	case roleDeadline:
		return &fields.Deadline
	case roleAmountADesired:
		return &fields.AmountADesired
	case roleAmountBDesired:
		return &fields.AmountBDesired
	case roleAmountTokenDesired:
		return &fields.AmountTokenDesired
	case roleAmountAMin:
		return &fields.AmountAMin
	case roleAmountBMin:
		return &fields.AmountBMin
	case roleAmountTokenMin:
		return &fields.AmountTokenMin
	case roleAmountETHMin:
		return &fields.AmountETHMin
	case roleLiquidity:
		return &fields.Liquidity
	default:
		return nil
	}
}
