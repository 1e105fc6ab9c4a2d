package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wonny/daytrader/internal/strategy"
)

// presetsCmd represents the presets command
var presetsCmd = &cobra.Command{
	Use:   "presets [name]",
	Short: "전략 프리셋 파라미터 출력",
	Long: `내장 전략 프리셋을 YAML로 출력합니다.
이름을 주면 해당 프리셋만 출력합니다.

Example:
  go run ./cmd/trader presets
  go run ./cmd/trader presets bear`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPresets,
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}

func runPresets(cmd *cobra.Command, args []string) error {
	names := strategy.PresetNames()
	if len(args) == 1 {
		names = args
	}

	for i, name := range names {
		p, err := strategy.Preset(name)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode preset %s: %w", name, err)
		}

		if i > 0 {
			fmt.Println()
		}
		PrintDoubleSeparator()
		fmt.Printf("  %s\n", name)
		PrintSeparator()
		fmt.Print(string(out))
	}
	return nil
}
