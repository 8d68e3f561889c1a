package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABI = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Wombat main pool, single-sided deposits per asset.
const poolABI = `[
 {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"minimumLiquidity","type":"uint256"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"},{"name":"shouldStake","type":"bool"}],"outputs":[{"name":"liquidity","type":"uint256"}]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"liquidity","type":"uint256"},{"name":"minimumAmount","type":"uint256"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amount","type":"uint256"}]},
 {"type":"function","name":"quotePotentialDeposit","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"liquidity","type":"uint256"},{"name":"reward","type":"uint256"}]},
 {"type":"function","name":"quotePotentialWithdraw","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"liquidity","type":"uint256"}],"outputs":[{"name":"amount","type":"uint256"},{"name":"fee","type":"uint256"}]}
]`

// MasterWombatV2 farm. Deposits and withdrawals harvest pending rewards.
const stakingABI = `[
 {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"_pid","type":"uint256"},{"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"_pid","type":"uint256"},{"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
 {"type":"function","name":"pendingTokens","stateMutability":"view","inputs":[{"name":"_pid","type":"uint256"},{"name":"_user","type":"address"}],"outputs":[{"name":"pendingRewards","type":"uint256"},{"name":"bonusTokenAddresses","type":"address[]"},{"name":"bonusTokenSymbols","type":"string[]"},{"name":"pendingBonusRewards","type":"uint256[]"}]}
]`

// UniswapV2-compatible router (PancakeSwap).
const routerABI = `[
 {"type":"function","name":"getAmountsOut","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
 {"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var (
	erc20Contract   = mustParseABI(erc20ABI)
	poolContract    = mustParseABI(poolABI)
	stakingContract = mustParseABI(stakingABI)
	routerContract  = mustParseABI(routerABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
