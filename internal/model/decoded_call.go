package model

// DecodedCall is call data matched against a registered ABI method.
type DecodedCall struct {
	Contract     string          `json:"contract"`
	ContractName string          `json:"contractName"`
	FunctionName string          `json:"functionName"`
	Signature    string          `json:"signature"`
	Selector     string          `json:"selector"`
	RawArguments []Argument      `json:"rawArguments"`
	Canonical    CanonicalFields `json:"canonicalFields"`
	Tokens       []TokenMeta     `json:"tokens,omitempty"`
}

// Argument is one positional argument in declaration order.
type Argument struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// CanonicalFields holds values shared across differently named functions
// with the same role. Only fields the matched function provides are set.
type CanonicalFields struct {
	AmountIn           string   `json:"amountIn,omitempty"`
	AmountInMax        string   `json:"amountInMax,omitempty"`
	AmountOut          string   `json:"amountOut,omitempty"`
	AmountOutMin       string   `json:"amountOutMin,omitempty"`
	Path               []string `json:"path,omitempty"`
	TokenIn            string   `json:"tokenIn,omitempty"`
	TokenOut           string   `json:"tokenOut,omitempty"`
	To                 string   `json:"to,omitempty"`
	Deadline           string   `json:"deadline,omitempty"`
	TokenA             string   `json:"tokenA,omitempty"`
	TokenB             string   `json:"tokenB,omitempty"`
	Token              string   `json:"token,omitempty"`
	AmountADesired     string   `json:"amountADesired,omitempty"`
	AmountBDesired     string   `json:"amountBDesired,omitempty"`
	AmountTokenDesired string   `json:"amountTokenDesired,omitempty"`
	AmountAMin         string   `json:"amountAMin,omitempty"`
	AmountBMin         string   `json:"amountBMin,omitempty"`
	AmountTokenMin     string   `json:"amountTokenMin,omitempty"`
	AmountETHMin       string   `json:"amountETHMin,omitempty"`
	Liquidity          string   `json:"liquidity,omitempty"`
}

// IsEmpty reports whether no canonical field was populated.
func (c CanonicalFields) IsEmpty() bool {
	return c.AmountIn == "" && c.AmountInMax == "" && c.AmountOut == "" && c.AmountOutMin == "" &&
		len(c.Path) == 0 && c.TokenIn == "" && c.TokenOut == "" && c.To == "" && c.Deadline == "" &&
		c.TokenA == "" && c.TokenB == "" && c.Token == "" &&
		c.AmountADesired == "" && c.AmountBDesired == "" && c.AmountTokenDesired == "" &&
		c.AmountAMin == "" && c.AmountBMin == "" && c.AmountTokenMin == "" && c.AmountETHMin == "" &&
		c.Liquidity == ""
}

// TokenAddresses returns the distinct token addresses referenced by the fields.
func (c CanonicalFields) TokenAddresses() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 4)
	for _, addr := range []string{c.TokenIn, c.TokenOut, c.TokenA, c.TokenB, c.Token} {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// TokenMeta is ERC20 metadata attached to decoded token addresses.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
}
