package indexer

import (
	"fmt"
	"strings"

	"lendingScope/internal/felt"
)

// ParseContract validates a contract address felt and returns it in
// canonical form.
func ParseContract(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("contract address is required")
	}
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		return "", fmt.Errorf("invalid contract address: %s", input)
	}
	addr, err := felt.Normalize(input)
	if err != nil {
		return "", fmt.Errorf("invalid contract address: %s", input)
	}
	return addr, nil
}

// ParseSelectors validates selector felts, returning them in canonical form.
func ParseSelectors(inputs []string) ([]string, error) {
	out := make([]string, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		sel, err := felt.Normalize(input)
		if err != nil {
			return nil, fmt.Errorf("invalid selector: %s", input)
		}
		out = append(out, sel)
	}
	return out, nil
}
