package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	env     string
	verbose bool
	quiet   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "trader",
	Short:         "Day trader - 가격 사다리 기반 일중 매매 엔진",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `Day Trader Unified CLI

전일 종가 기준 매수/매도 사다리로 하루 동안 매매하고,
장 마감 시 포지션을 저장해 다음 거래일에 이어갑니다.

Usage:
  go run ./cmd/trader [command]

Examples:
  go run ./cmd/trader run
  go run ./cmd/trader simulate --dataset data/dataset
  go run ./cmd/trader serve
  go run ./cmd/trader clean --dl
  go run ./cmd/trader presets`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production|simulation)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose log mode (all channels)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "quiet log mode")
}
