// ABOUTME: Minimal flag parsing for realmgate subcommands
// ABOUTME: Accepts --name value, --name=value, boolean switches, and positionals

package main

import (
	"fmt"
	"strconv"
	"strings"
)

type parsedArgs struct {
	values      map[string]string
	switches    map[string]bool
	positionals []string
}

// parseArgs splits args into flag values and positionals. valueFlags take an
// argument; switchFlags do not. Unknown flags are an error.
func parseArgs(args []string, valueFlags, switchFlags []string) (*parsedArgs, error) {
	p := &parsedArgs{values: make(map[string]string), switches: make(map[string]bool)}

	takesValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		takesValue[f] = true
	}
	isSwitch := make(map[string]bool, len(switchFlags))
	for _, f := range switchFlags {
		isSwitch[f] = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			if strings.HasPrefix(arg, "-") && len(arg) > 1 {
				return nil, fmt.Errorf("unknown flag: %s", arg)
			}
			p.positionals = append(p.positionals, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case takesValue[name]:
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			p.values[name] = value
		case isSwitch[name]:
			if hasValue {
				return nil, fmt.Errorf("--%s does not take a value", name)
			}
			p.switches[name] = true
		default:
			return nil, fmt.Errorf("unknown flag: --%s", name)
		}
	}
	return p, nil
}

func (p *parsedArgs) str(name string) string { return p.values[name] }

func (p *parsedArgs) has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// uintFlag parses a numeric flag that fits in bits. Missing flags yield def.
func (p *parsedArgs) uintFlag(name string, bits int, def uint64) (uint64, error) {
	raw, ok := p.values[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(raw, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("--%s: %q is not a valid %d-bit unsigned number", name, raw, bits)
	}
	return n, nil
}

// intFlag parses a signed numeric flag. Missing flags yield def.
func (p *parsedArgs) intFlag(name string, def int) (int, error) {
	raw, ok := p.values[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("--%s: %q is not a number", name, raw)
	}
	return n, nil
}
