package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// loadTOMLFile reads a TOML config file and flattens it into environment-style keys:
//
//	[alignment]
//	tail_seconds = 0.25      -> ALIGNMENT_TAIL_SECONDS=0.25
//	[alignment.bitrates]
//	mp3 = 160                -> ALIGNMENT_BITRATES=mp3=160
//	[server]
//	cors_origins = ["a","b"] -> SERVER_CORS_ORIGINS=a,b
func loadTOMLFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path comes from the operator
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}

	out := make(map[string]string)
	flattenTOML(raw, "", out)
	return out, nil
}

func flattenTOML(m map[string]any, prefix string, out map[string]string) {
	for k, v := range m {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			if prefix == "" {
				flattenTOML(val, key, out)
				continue
			}
			// Tables nested below a section become "name=value" lists.
			pairs := make([]string, 0, len(val))
			for name, inner := range val {
				pairs = append(pairs, fmt.Sprintf("%s=%v", name, inner))
			}
			sort.Strings(pairs)
			out[key] = strings.Join(pairs, ",")
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, fmt.Sprint(item))
			}
			out[key] = strings.Join(items, ",")
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
