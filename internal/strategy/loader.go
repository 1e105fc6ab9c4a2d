package strategy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk strategy definition
//
//	name: spy-qqq-bear
//	preset: bear                # 심볼별 설정이 없을 때 사용
//	max_open_primary_buys: 2
//	symbols:
//	  SPY: { primary_buys: [...], ... }
type File struct {
	Name               string            `yaml:"name" json:"name"`
	Preset             string            `yaml:"preset" json:"preset"`
	MaxOpenPrimaryBuys int               `yaml:"max_open_primary_buys" json:"max_open_primary_buys"`
	Default            *Params           `yaml:"default" json:"default,omitempty"`
	Symbols            map[string]Params `yaml:"symbols" json:"symbols,omitempty"`
}

// LoadFile reads a strategy YAML file and returns it with the raw bytes
// KnownFields(true): 오타/미사용 필드는 즉시 실패
func LoadFile(path string) (*File, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read strategy file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	return f, data, nil
}

// Parse decodes and validates strategy YAML
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode strategy file: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the file and every parameter set in it
func (f *File) Validate() error {
	if f.MaxOpenPrimaryBuys < 0 {
		return ValidationError{"max_open_primary_buys", "must be >= 0"}
	}
	if f.Preset == "" && f.Default == nil && len(f.Symbols) == 0 {
		return ValidationError{"preset", "one of preset, default or symbols is required"}
	}
	if f.Preset != "" {
		if _, err := Preset(f.Preset); err != nil {
			return ValidationError{"preset", err.Error()}
		}
	}
	if f.Default != nil {
		if err := f.Default.Validate(); err != nil {
			return fmt.Errorf("default.%w", err)
		}
	}
	for sym, p := range f.Symbols {
		p := p
		if err := p.Validate(); err != nil {
			return fmt.Errorf("symbols.%s.%w", sym, err)
		}
	}
	return nil
}

// Resolve returns the parameters used for a symbol
// 우선순위: symbols[sym] → default → preset
func (f *File) Resolve(symbol string) (*Params, error) {
	if p, ok := f.Symbols[symbol]; ok {
		return &p, nil
	}
	if f.Default != nil {
		p := *f.Default
		return &p, nil
	}
	if f.Preset != "" {
		return Preset(f.Preset)
	}
	return nil, fmt.Errorf("no strategy parameters for %s", symbol)
}

// Hash returns the SHA256 of the file's canonical JSON
// encoding/json은 map 키를 정렬하므로 재현 가능
func Hash(f *File) (string, error) {
	jsonBytes, err := json.Marshal(f)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
