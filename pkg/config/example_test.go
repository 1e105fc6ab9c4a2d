package config_test

import (
	"fmt"

	"github.com/wonny/daytrader/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	// Access configuration values
	fmt.Printf("Symbols: %v\n", cfg.Engine.Symbols)
	fmt.Printf("Max open primary buys: %d\n", cfg.Engine.MaxOpenPrimaryBuys)
	fmt.Printf("Snapshot store: %s\n", cfg.Persist.SnapshotStore)
}
